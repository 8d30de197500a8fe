package robotics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AltairaLabs/robolive/detection"
	"github.com/AltairaLabs/robolive/logger"
	"github.com/AltairaLabs/robolive/media"
	"github.com/AltairaLabs/robolive/tools"
	"github.com/AltairaLabs/robolive/vision"
)

// DetectObjectsTool is the tool name for query-driven detection.
const DetectObjectsTool = "detect_objects"

var detectObjectsSchema = json.RawMessage(`{
	"type": "OBJECT",
	"properties": {
		"query": {"type": "STRING", "description": "What to look for (e.g., 'cup', 'person')."}
	},
	"required": ["query"]
}`)

// QueryDetector is the subset of the detection client used by Locator.
type QueryDetector interface {
	DetectQuery(ctx context.Context, image []byte, query string) ([]detection.Point, error)
}

// DetectObjectsDeclaration returns the detect_objects declaration.
func DetectObjectsDeclaration() tools.Declaration {
	return tools.Declaration{
		Name:        DetectObjectsTool,
		Description: "Find every object in the camera view that matches a query and point at it.",
		Parameters:  detectObjectsSchema,
	}
}

// QueryArgs are the detect_objects arguments.
type QueryArgs struct {
	Query string `json:"query"`
}

// QueryResult is the detect_objects result sent back to the model.
type QueryResult struct {
	Query  string            `json:"query"`
	Points []detection.Point `json:"points"`
}

// Locator answers detect_objects calls from the latest camera frame.
type Locator struct {
	Frames   *vision.FrameStore
	Detector QueryDetector
	Overlay  vision.Overlay
}

// Handle implements tools.Handler.
func (l *Locator) Handle(ctx context.Context, inv tools.Invocation) (any, error) {
	var args QueryArgs
	if err := inv.Decode(&args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return nil, errors.New("query is required")
	}

	points, err := Locate(ctx, l.Frames, l.Detector, args.Query)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "objects located", "query", args.Query, "points", len(points))

	if l.Overlay != nil {
		l.Overlay.Show(detection.KindQuery, points)
	}
	return QueryResult{Query: args.Query, Points: points}, nil
}

// Register adds detect_objects to r.
func (l *Locator) Register(r *tools.Registry) error {
	if l.Detector == nil {
		return errors.New("robotics: locator requires a detector")
	}
	return r.Register(DetectObjectsDeclaration(), l)
}

// Locate runs query against the latest frame in frames.
func Locate(ctx context.Context, frames *vision.FrameStore, d QueryDetector, query string) ([]detection.Point, error) {
	img, err := detectionFrame(frames)
	if err != nil {
		return nil, err
	}
	return d.DetectQuery(ctx, img, query)
}

// detectionFrame returns the latest frame downscaled for detection.
func detectionFrame(frames *vision.FrameStore) ([]byte, error) {
	var frame *vision.Frame
	if frames != nil {
		frame = frames.Latest()
	}
	if frame == nil {
		return nil, ErrNoFrame
	}
	img, err := media.PrepareForDetection(frame.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare frame: %w", err)
	}
	return img, nil
}
