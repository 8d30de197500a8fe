// Package detection asks a vision model to point at things in a camera frame.
package detection

import (
	"context"
	"fmt"
)

// DefaultModel is the robotics vision model used for detection.
const DefaultModel = "gemini-robotics-er-1.5-preview"

// Coordinates are normalized to [0, MaxCoordinate] on both axes.
const MaxCoordinate = 1000

// ObjectsPrompt asks for up to ten labelled points.
const ObjectsPrompt = `Point to no more than 10 items in the image. The label returned should be an identifying name for the object detected. The answer should follow the json format: [{"point": [y, x], "label": "label1"}, ...]. The points are in [y, x] format normalized to 0-1000.`

// Detection kinds reported in events.
const (
	KindObjects    = "objects"
	KindTrajectory = "trajectory"
	KindQuery      = "query"
	KindCustom     = "custom"
)

// Point is a labelled image location, [y, x] normalized to 0-1000.
type Point struct {
	Point [2]int `json:"point"`
	Label string `json:"label"`
}

// Y returns the vertical coordinate.
func (p Point) Y() int { return p.Point[0] }

// X returns the horizontal coordinate.
func (p Point) X() int { return p.Point[1] }

// Detector finds points in a JPEG image. It returns either an error or a
// fully valid list, never partial output.
type Detector interface {
	Detect(ctx context.Context, image []byte, prompt string) ([]Point, error)
}

// QueryPrompt builds the prompt for pointing at everything matching query.
func QueryPrompt(query string) string {
	return fmt.Sprintf(`Get all points matching %s. The label returned should be an identifying
name for the object detected.
The answer should follow the json format: [{"point": [y, x], "label": "label1"}, ...].
The points are in [y, x] format normalized to 0-1000.
Return only the JSON array.`, query)
}

// TrajectoryPrompt builds the prompt for planning a path between objects.
func TrajectoryPrompt(object, destination string) string {
	return fmt.Sprintf(`Plan a trajectory to move the %s to the %s.
The answer should follow the json format: [{"point": [y, x], "label": "label"}].
The points are in [y, x] format normalized to 0-1000.
Return a list of points representing the trajectory.`, object, destination)
}
