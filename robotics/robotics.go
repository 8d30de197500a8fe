// Package robotics provides the robot-arm persona and the plan_trajectory
// tool that turns a spoken request into a path drawn over the camera view.
package robotics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AltairaLabs/robolive/detection"
	"github.com/AltairaLabs/robolive/logger"
	"github.com/AltairaLabs/robolive/tools"
	"github.com/AltairaLabs/robolive/vision"
)

// SystemInstruction is the default persona for a robotics session.
const SystemInstruction = "You are a helpful assistant with access to a robotics arm. " +
	"You can see the user's video feed. If the user asks to move an object or plan a path, " +
	"use the 'plan_trajectory' tool to visualize it. " +
	"Do not refuse to plan a trajectory if you see the object."

// PlanTrajectoryTool is the tool name advertised to the model.
const PlanTrajectoryTool = "plan_trajectory"

var planTrajectorySchema = json.RawMessage(`{
	"type": "OBJECT",
	"properties": {
		"object": {"type": "STRING", "description": "The object to move (e.g., 'red cup')."},
		"destination": {"type": "STRING", "description": "Where to move it (e.g., 'table edge')."}
	},
	"required": ["object", "destination"]
}`)

// ErrNoFrame is returned when no camera frame has been captured yet.
var ErrNoFrame = errors.New("no camera frame available")

// TrajectoryPlanner is the subset of the detection client used for planning.
type TrajectoryPlanner interface {
	DetectTrajectory(ctx context.Context, image []byte, object, destination string) ([]detection.Point, error)
}

// PlanTrajectoryDeclaration returns the plan_trajectory declaration.
func PlanTrajectoryDeclaration() tools.Declaration {
	return tools.Declaration{
		Name:        PlanTrajectoryTool,
		Description: "Plan a robot trajectory path from an object to a destination.",
		Parameters:  planTrajectorySchema,
	}
}

// TrajectoryArgs are the plan_trajectory arguments.
type TrajectoryArgs struct {
	Object      string `json:"object"`
	Destination string `json:"destination"`
}

// TrajectoryResult is the tool result sent back to the model.
type TrajectoryResult struct {
	Object      string            `json:"object"`
	Destination string            `json:"destination"`
	Trajectory  []detection.Point `json:"trajectory"`
}

// Planner answers plan_trajectory calls from the latest camera frame.
type Planner struct {
	Frames   *vision.FrameStore
	Detector TrajectoryPlanner
	// Overlay is optional.
	Overlay vision.Overlay
}

// Handle implements tools.Handler.
func (p *Planner) Handle(ctx context.Context, inv tools.Invocation) (any, error) {
	var args TrajectoryArgs
	if err := inv.Decode(&args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	args.Object = strings.TrimSpace(args.Object)
	args.Destination = strings.TrimSpace(args.Destination)
	if args.Object == "" || args.Destination == "" {
		return nil, errors.New("object and destination are required")
	}

	img, err := detectionFrame(p.Frames)
	if err != nil {
		return nil, err
	}

	points, err := p.Detector.DetectTrajectory(ctx, img, args.Object, args.Destination)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "trajectory planned",
		"object", args.Object, "destination", args.Destination, "points", len(points))

	if p.Overlay != nil {
		p.Overlay.Show(detection.KindTrajectory, points)
	}
	return TrajectoryResult{Object: args.Object, Destination: args.Destination, Trajectory: points}, nil
}

// Register adds plan_trajectory to r.
func (p *Planner) Register(r *tools.Registry) error {
	if p.Detector == nil {
		return errors.New("robotics: planner requires a detector")
	}
	return r.Register(PlanTrajectoryDeclaration(), p)
}
