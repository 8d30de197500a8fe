package logger

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// ModuleConfig manages per-module logging configuration.
// Module names are dotted package paths relative to the module root
// (e.g., "internal.streaming"); more specific names override less specific ones.
type ModuleConfig struct {
	defaultLevel slog.Level
	modules      map[string]slog.Level
	sortedKeys   []string // most specific first
	mu           sync.RWMutex
}

// NewModuleConfig creates a new ModuleConfig with the given default level.
func NewModuleConfig(defaultLevel slog.Level) *ModuleConfig {
	return &ModuleConfig{
		defaultLevel: defaultLevel,
		modules:      make(map[string]slog.Level),
	}
}

// SetModuleLevel sets the log level for a specific module.
func (m *ModuleConfig) SetModuleLevel(module string, level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.modules[module] = level
	m.updateSortedKeys()
}

// SetDefaultLevel sets the default log level.
func (m *ModuleConfig) SetDefaultLevel(level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultLevel = level
}

// LevelFor returns the log level for the given module, walking up the
// dotted hierarchy until a configured level is found.
func (m *ModuleConfig) LevelFor(module string) slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if level, ok := m.modules[module]; ok {
		return level
	}

	for {
		lastDot := strings.LastIndex(module, ".")
		if lastDot == -1 {
			break
		}
		module = module[:lastDot]
		if level, ok := m.modules[module]; ok {
			return level
		}
	}

	return m.defaultLevel
}

// updateSortedKeys must be called with lock held.
func (m *ModuleConfig) updateSortedKeys() {
	m.sortedKeys = make([]string, 0, len(m.modules))
	for k := range m.modules {
		m.sortedKeys = append(m.sortedKeys, k)
	}
	sort.Slice(m.sortedKeys, func(i, j int) bool {
		dotsI := strings.Count(m.sortedKeys[i], ".")
		dotsJ := strings.Count(m.sortedKeys[j], ".")
		if dotsI != dotsJ {
			return dotsI > dotsJ
		}
		return m.sortedKeys[i] < m.sortedKeys[j]
	})
}

var globalModuleConfig = NewModuleConfig(slog.LevelInfo)

// LoggingConfigSpec defines the logging configuration for the Configure function.
type LoggingConfigSpec struct {
	DefaultLevel string
	Format       string // "json" or "text"
	CommonFields map[string]string
	Modules      []ModuleLoggingSpec
	File         *FileSpec
}

// ModuleLoggingSpec configures logging for a specific module.
type ModuleLoggingSpec struct {
	Name  string
	Level string
}

// FileSpec enables rotating file output alongside stderr.
type FileSpec struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Log format constants
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Configure applies a LoggingConfigSpec to the global logger.
func Configure(cfg *LoggingConfigSpec) error {
	if cfg == nil {
		return nil
	}

	if customHandler != nil {
		return nil
	}

	defaultLevel := slog.LevelInfo
	if cfg.DefaultLevel != "" {
		defaultLevel = ParseLevel(cfg.DefaultLevel)
	}

	var commonFields []slog.Attr
	for k, v := range cfg.CommonFields {
		commonFields = append(commonFields, slog.String(k, v))
	}

	moduleConfig := NewModuleConfig(defaultLevel)
	for _, mod := range cfg.Modules {
		moduleConfig.SetModuleLevel(mod.Name, ParseLevel(mod.Level))
	}
	globalModuleConfig = moduleConfig

	if cfg.File != nil && cfg.File.Path != "" {
		setOutput(io.MultiWriter(os.Stderr, newRotatingWriter(cfg.File)))
	}

	initLoggerWithConfig(defaultLevel, commonFields, moduleConfig, cfg.Format == FormatJSON)
	return nil
}

// newRotatingWriter returns a size-rotated log file writer.
func newRotatingWriter(spec *FileSpec) io.Writer {
	return &lumberjack.Logger{
		Filename:   spec.Path,
		MaxSize:    spec.MaxSizeMB,
		MaxBackups: spec.MaxBackups,
		MaxAge:     spec.MaxAgeDays,
		Compress:   spec.Compress,
	}
}

func setOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	logOutput = w
}

// initLoggerWithConfig creates the logger with full configuration.
func initLoggerWithConfig(level slog.Level, commonFields []slog.Attr, moduleConfig *ModuleConfig, useJSON bool) {
	outputMu.Lock()
	out := logOutput
	outputMu.Unlock()

	var baseHandler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}
	// Module levels may be more verbose than the default.
	if moduleConfig != nil && len(moduleConfig.modules) > 0 {
		opts.Level = slog.LevelDebug
	}

	if useJSON {
		baseHandler = slog.NewJSONHandler(out, opts)
	} else {
		baseHandler = slog.NewTextHandler(out, opts)
	}

	var handler slog.Handler
	if moduleConfig != nil && len(moduleConfig.modules) > 0 {
		handler = NewModuleHandler(baseHandler, moduleConfig, commonFields...)
	} else {
		handler = NewContextHandler(baseHandler, commonFields...)
	}

	DefaultLogger = slog.New(handler)
	slog.SetDefault(DefaultLogger)
}

// GetModuleConfig returns the global module configuration.
func GetModuleConfig() *ModuleConfig {
	return globalModuleConfig
}
