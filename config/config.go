// Package config loads robolive settings from a YAML file, ROBOLIVE_*
// environment variables, a .env file and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/AltairaLabs/robolive/detection"
	"github.com/AltairaLabs/robolive/liveerr"
	"github.com/AltairaLabs/robolive/logger"
	"github.com/AltairaLabs/robolive/protocol"
	"github.com/AltairaLabs/robolive/session"
	"github.com/AltairaLabs/robolive/tools"
	"github.com/AltairaLabs/robolive/vision"
)

// EnvPrefix prefixes every environment override, e.g. ROBOLIVE_MODEL.
const EnvPrefix = "ROBOLIVE"

// Credential fallbacks checked when api_key is unset.
var credentialEnv = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// Config is the complete application configuration.
type Config struct {
	APIKey            string        `mapstructure:"api_key"`
	Endpoint          string        `mapstructure:"endpoint"`
	Model             string        `mapstructure:"model"`
	Voice             string        `mapstructure:"voice"`
	SystemInstruction string        `mapstructure:"system_instruction"`
	Transcribe        bool          `mapstructure:"transcribe"`
	ToolsFile         string        `mapstructure:"tools_file"`
	ToolTimeout       time.Duration `mapstructure:"tool_timeout"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	Heartbeat         time.Duration `mapstructure:"heartbeat"`

	Audio     AudioConfig     `mapstructure:"audio"`
	Video     VideoConfig     `mapstructure:"video"`
	Detection DetectionConfig `mapstructure:"detection"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

// AudioConfig selects the audio devices.
type AudioConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// VideoConfig configures the camera.
type VideoConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Device   int           `mapstructure:"device"`
	Width    int           `mapstructure:"width"`
	Height   int           `mapstructure:"height"`
	FPS      int           `mapstructure:"fps"`
	Interval time.Duration `mapstructure:"interval"`
	// Image replays a still image instead of a webcam.
	Image string `mapstructure:"image"`
}

// DetectionConfig configures the vision detector.
type DetectionConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Model           string        `mapstructure:"model"`
	BaseURL         string        `mapstructure:"base_url"`
	Interval        time.Duration `mapstructure:"interval"`
	RequestInterval time.Duration `mapstructure:"request_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// MetricsConfig configures the Prometheus exporter. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig configures OTLP export. An empty Endpoint disables it.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level      string            `mapstructure:"level"`
	Format     string            `mapstructure:"format"`
	File       string            `mapstructure:"file"`
	MaxSizeMB  int               `mapstructure:"max_size_mb"`
	MaxBackups int               `mapstructure:"max_backups"`
	Modules    map[string]string `mapstructure:"modules"`
}

// SetDefaults registers every key with its default so environment
// overrides apply during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("endpoint", session.DefaultEndpoint)
	v.SetDefault("model", protocol.DefaultModel)
	v.SetDefault("voice", "")
	v.SetDefault("system_instruction", "")
	v.SetDefault("transcribe", false)
	v.SetDefault("tools_file", "")
	v.SetDefault("tool_timeout", tools.DefaultTimeout)
	v.SetDefault("dial_timeout", 15*time.Second)
	v.SetDefault("heartbeat", session.DefaultHeartbeatInterval)

	v.SetDefault("audio.enabled", true)

	v.SetDefault("video.enabled", false)
	v.SetDefault("video.device", 0)
	v.SetDefault("video.width", 640)
	v.SetDefault("video.height", 480)
	v.SetDefault("video.fps", 5)
	v.SetDefault("video.interval", vision.DefaultVideoInterval)
	v.SetDefault("video.image", "")

	v.SetDefault("detection.enabled", false)
	v.SetDefault("detection.model", detection.DefaultModel)
	v.SetDefault("detection.base_url", "")
	v.SetDefault("detection.interval", vision.DefaultDetectionInterval)
	v.SetDefault("detection.request_interval", detection.DefaultRequestInterval)
	v.SetDefault("detection.timeout", detection.DefaultTimeout)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "robolive")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.modules", map[string]string{})
}

// Load reads configuration into a Config. configFile may be empty. Values
// already bound to v, such as command-line flags, take precedence.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, liveerr.Wrap(liveerr.KindConfig, "failed to load .env", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, liveerr.Wrap(liveerr.KindConfig, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, liveerr.Wrap(liveerr.KindConfig, "invalid configuration", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		cfg.APIKey = credentialFromEnv()
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func credentialFromEnv() string {
	for _, name := range credentialEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports the first configuration problem as a config error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return liveerr.Config(fmt.Sprintf("missing API key: set api_key, %s_API_KEY or %s",
			EnvPrefix, strings.Join(credentialEnv, "/")))
	}
	if c.Model == "" {
		return liveerr.Config("model must not be empty")
	}
	if c.ToolTimeout <= 0 {
		return liveerr.Config("tool_timeout must be positive")
	}
	if c.Video.Enabled && c.Video.Interval <= 0 {
		return liveerr.Config("video.interval must be positive")
	}
	if c.Detection.Enabled {
		if !c.Video.Enabled {
			return liveerr.Config("detection requires video.enabled")
		}
		if c.Detection.Interval <= 0 {
			return liveerr.Config("detection.interval must be positive")
		}
	}
	switch c.Log.Format {
	case logger.FormatText, logger.FormatJSON:
	default:
		return liveerr.Config(fmt.Sprintf("log.format must be %q or %q", logger.FormatText, logger.FormatJSON))
	}
	return nil
}

// LoggingSpec converts the log section for logger.Configure.
func (c *Config) LoggingSpec() *logger.LoggingConfigSpec {
	spec := &logger.LoggingConfigSpec{
		DefaultLevel: c.Log.Level,
		Format:       c.Log.Format,
	}
	names := make([]string, 0, len(c.Log.Modules))
	for name := range c.Log.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec.Modules = append(spec.Modules, logger.ModuleLoggingSpec{Name: name, Level: c.Log.Modules[name]})
	}
	if c.Log.File != "" {
		spec.File = &logger.FileSpec{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			Compress:   true,
		}
	}
	return spec
}
