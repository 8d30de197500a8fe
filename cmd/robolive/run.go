package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/robolive/audio"
	"github.com/AltairaLabs/robolive/config"
	"github.com/AltairaLabs/robolive/detection"
	"github.com/AltairaLabs/robolive/events"
	"github.com/AltairaLabs/robolive/logger"
	metrics "github.com/AltairaLabs/robolive/metrics/prometheus"
	"github.com/AltairaLabs/robolive/robotics"
	"github.com/AltairaLabs/robolive/session"
	"github.com/AltairaLabs/robolive/telemetry"
	"github.com/AltairaLabs/robolive/tools"
	"github.com/AltairaLabs/robolive/vision"
)

const disconnectTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a live session",
	Long: `Connects to the live endpoint and streams until interrupted (Ctrl+C)
or until the server ends the session.`,
	RunE: runSession,
}

func init() {
	f := runCmd.Flags()
	f.String("model", "", "Live model name")
	f.String("endpoint", "", "Live WebSocket endpoint")
	f.String("voice", "", "Prebuilt voice name")
	f.String("system-instruction", "", "System instruction (defaults to the robotics persona)")
	f.String("tools-file", "", "YAML file of additional static tool declarations")
	f.Bool("transcribe", false, "Print input and output transcriptions")
	f.Bool("audio", true, "Use the microphone and speaker")
	f.Bool("video", false, "Stream the camera")
	f.Int("camera", 0, "Camera device index")
	f.String("image", "", "Replay a still image instead of the camera")
	f.Bool("detect", false, "Run object detection on the camera stream")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	f.String("otlp-endpoint", "", "Export traces to this OTLP/HTTP endpoint")
	f.String("log-file", "", "Also write logs to this rotating file")

	bindings := map[string]string{
		"model":              "model",
		"endpoint":           "endpoint",
		"voice":              "voice",
		"system_instruction": "system-instruction",
		"tools_file":         "tools-file",
		"transcribe":         "transcribe",
		"audio.enabled":      "audio",
		"video.enabled":      "video",
		"video.device":       "camera",
		"video.image":        "image",
		"detection.enabled":  "detect",
		"metrics.addr":       "metrics-addr",
		"tracing.endpoint":   "otlp-endpoint",
		"log.file":           "log-file",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, _ []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(viper.GetViper(), configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Configure(cfg.LoggingSpec()); err != nil {
		return err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetVerbose(true)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()
	tracer := telemetry.Tracer(tp)

	bus := events.NewEventBus()
	defer bus.Close()
	bus.SubscribeAll(metrics.NewMetricsListener().Listener())
	bus.SubscribeAll(telemetry.NewSessionListener(tracer).OnEvent)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		exporter := metrics.NewExporter(cfg.Metrics.Addr)
		g.Go(func() error { return exporter.Serve(gctx) })
		logger.Info("metrics exporter listening", "addr", cfg.Metrics.Addr)
	}

	registry := tools.NewRegistry()
	store := &vision.FrameStore{}
	overlay := &vision.LogOverlay{Store: store}

	var detector *detection.Client
	if cfg.Detection.Enabled {
		detector = detection.NewClient(detection.Config{
			APIKey:          cfg.APIKey,
			Model:           cfg.Detection.Model,
			BaseURL:         cfg.Detection.BaseURL,
			RequestInterval: cfg.Detection.RequestInterval,
			Timeout:         cfg.Detection.Timeout,
			Emitter:         events.NewEmitter(bus, ""),
			Tracer:          tracer,
		})
		if err := detector.Init(ctx); err != nil {
			return err
		}
		defer detector.Shutdown()

		planner := &robotics.Planner{Frames: store, Detector: detector, Overlay: overlay}
		if err := planner.Register(registry); err != nil {
			return err
		}
		locator := &robotics.Locator{Frames: store, Detector: detector, Overlay: overlay}
		if err := locator.Register(registry); err != nil {
			return err
		}
	}
	if cfg.ToolsFile != "" {
		if err := registry.LoadFile(cfg.ToolsFile, nil); err != nil {
			return err
		}
	}

	instruction := cfg.SystemInstruction
	if instruction == "" {
		instruction = robotics.SystemInstruction
	}

	scfg := session.Config{
		APIKey:            cfg.APIKey,
		Endpoint:          cfg.Endpoint,
		Model:             cfg.Model,
		SystemInstruction: instruction,
		Voice:             cfg.Voice,
		Transcribe:        cfg.Transcribe,
		Tools:             registry,
		ToolTimeout:       cfg.ToolTimeout,
		DialTimeout:       cfg.DialTimeout,
		HeartbeatInterval: cfg.Heartbeat,
		Callbacks:         printCallbacks(cmd),
		Bus:               bus,
		Tracer:            tracer,
	}
	if cfg.Audio.Enabled {
		devices, err := openAudio()
		if err != nil {
			logger.Warn("audio disabled", "error", err)
		} else {
			defer devices.Close()
			scfg.Recorder = audio.NewCapture(devices.Input)
			scfg.Player = audio.NewPlayback(devices.Output,
				audio.WithEmitter(events.NewEmitter(bus, "")))
		}
	}

	client := session.NewClient(scfg)
	sess, err := client.Connect(ctx)
	if err != nil {
		return err
	}
	logger.Info("session connected", "session_id", sess.ID(), "model", cfg.Model)

	if cfg.Video.Enabled {
		camera, err := openCamera(cfg.Video)
		if err != nil {
			_ = client.Disconnect()
			return err
		}
		loopCfg := vision.LoopConfig{
			Camera:            camera,
			Store:             store,
			Sink:              client,
			Overlay:           overlay,
			VideoInterval:     cfg.Video.Interval,
			DetectionInterval: cfg.Detection.Interval,
		}
		if detector != nil {
			loopCfg.Detector = detector
		}
		loop := vision.NewLoop(loopCfg)
		g.Go(func() error { return loop.Run(gctx) })
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-sess.Done():
		}
		return client.Disconnect()
	})

	<-sess.Done()
	stop()
	err = g.Wait()

	if serr := sess.Err(); serr != nil {
		return serr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openCamera(cfg config.VideoConfig) (vision.Camera, error) {
	if cfg.Image != "" {
		data, err := os.ReadFile(cfg.Image)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		return vision.NewStaticCamera(data, cfg.Interval)
	}
	return vision.NewWebcam(vision.WebcamConfig{
		DeviceIndex: cfg.Device,
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
	}), nil
}

func printCallbacks(cmd *cobra.Command) session.Callbacks {
	out := cmd.OutOrStdout()
	return session.Callbacks{
		OnStatusChange: func(ev session.StatusEvent) {
			if ev.Err != nil {
				fmt.Fprintf(out, "[%s] %v\n", ev.State, ev.Err)
				return
			}
			fmt.Fprintf(out, "[%s]\n", ev.State)
		},
		OnResponse: func(r session.Response) {
			switch {
			case len(r.ToolUse) > 0:
				for _, call := range r.ToolUse {
					fmt.Fprintf(out, "tool> %s(%s)\n", call.Name, call.Args)
				}
			case r.Transcript:
				fmt.Fprintf(out, "%s> %s\n", r.Source, r.Text)
			default:
				fmt.Fprintf(out, "model> %s\n", r.Text)
			}
		},
	}
}
