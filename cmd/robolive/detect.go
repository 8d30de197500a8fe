package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltairaLabs/robolive/config"
	"github.com/AltairaLabs/robolive/detection"
	"github.com/AltairaLabs/robolive/liveerr"
	"github.com/AltairaLabs/robolive/logger"
	"github.com/AltairaLabs/robolive/robotics"
	"github.com/AltairaLabs/robolive/vision"
)

const frameTimeout = 10 * time.Second

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Point at objects matching a query in one camera frame",
	Long: `Grabs a single frame from the camera (or --image), asks the vision model
for every object matching --query and prints the points found.`,
	RunE: runDetect,
}

func init() {
	f := detectCmd.Flags()
	f.String("query", "", "What to look for (required)")
	f.String("image", "", "Use a still image instead of the camera")
	f.Int("camera", 0, "Camera device index")
	f.Bool("json", false, "Print points as JSON")

	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	query, _ := flags.GetString("query")
	query = strings.TrimSpace(query)
	if query == "" {
		return liveerr.Config("detect requires --query")
	}

	configFile, _ := flags.GetString("config")
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
	if verbose, _ := flags.GetBool("verbose"); verbose {
		logger.SetVerbose(true)
	}

	video := cfg.Video
	if flags.Changed("image") {
		video.Image, _ = flags.GetString("image")
	}
	if flags.Changed("camera") {
		video.Device, _ = flags.GetInt("camera")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	frame, err := grabFrame(ctx, video)
	if err != nil {
		return err
	}
	store := &vision.FrameStore{}
	store.Put(frame)

	detector := detection.NewClient(detection.Config{
		APIKey:          cfg.APIKey,
		Model:           cfg.Detection.Model,
		BaseURL:         cfg.Detection.BaseURL,
		RequestInterval: cfg.Detection.RequestInterval,
		Timeout:         cfg.Detection.Timeout,
	})
	if err := detector.Init(ctx); err != nil {
		return err
	}
	defer detector.Shutdown()

	points, err := robotics.Locate(ctx, store, detector, query)
	if err != nil {
		return err
	}

	asJSON, _ := flags.GetBool("json")
	if asJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(robotics.QueryResult{Query: query, Points: points})
	}
	printPoints(cmd.OutOrStdout(), frame, points)
	return nil
}

// grabFrame starts the camera, takes its first frame and stops it.
func grabFrame(ctx context.Context, video config.VideoConfig) (*vision.Frame, error) {
	camera, err := openCamera(video)
	if err != nil {
		return nil, err
	}
	if err := camera.Start(ctx); err != nil {
		return nil, err
	}
	defer camera.Stop()

	timer := time.NewTimer(frameTimeout)
	defer timer.Stop()
	select {
	case f, ok := <-camera.Frames():
		if !ok || f == nil {
			return nil, fmt.Errorf("camera closed before producing a frame")
		}
		return f, nil
	case <-timer.C:
		return nil, fmt.Errorf("no camera frame within %s", frameTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func printPoints(out io.Writer, frame *vision.Frame, points []detection.Point) {
	if len(points) == 0 {
		fmt.Fprintln(out, "no matches")
		return
	}
	for _, p := range points {
		line := fmt.Sprintf("%s\t[%d, %d]", p.Label, p.Y(), p.X())
		if frame != nil && frame.Width > 0 && frame.Height > 0 {
			px := vision.PixelPoint(p, frame.Width, frame.Height)
			line += fmt.Sprintf("\tpixel (%d, %d)", px.X, px.Y)
		}
		fmt.Fprintln(out, line)
	}
}
