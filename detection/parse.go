package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned when a model reply contains no JSON array.
var ErrNoJSON = errors.New("no JSON array in model reply")

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON returns the JSON array in a model reply, stripping code fences.
func extractJSON(text string) (string, error) {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)
	start := strings.Index(text, "[")
	if start < 0 {
		return "", ErrNoJSON
	}
	if end := strings.LastIndex(text, "]"); end > start {
		return text[start : end+1], nil
	}
	// Unterminated arrays are left for repair.
	return text[start:], nil
}

type rawPoint struct {
	Point []float64 `json:"point"`
	Label string    `json:"label"`
}

// ParsePoints parses and validates a model reply. Malformed JSON is repaired
// once; any invalid point rejects the whole reply.
func ParsePoints(text string) ([]Point, error) {
	body, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var raw []rawPoint
	if err := unmarshalJSON([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse points: %w", err)
	}

	points := make([]Point, 0, len(raw))
	for i, r := range raw {
		p, err := r.validate()
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		points = append(points, p)
	}
	return points, nil
}

func (r rawPoint) validate() (Point, error) {
	if len(r.Point) != 2 {
		return Point{}, fmt.Errorf("expected [y, x], got %d coordinates", len(r.Point))
	}
	if strings.TrimSpace(r.Label) == "" {
		return Point{}, errors.New("missing label")
	}
	var p Point
	p.Label = r.Label
	for i, v := range r.Point {
		c := int(math.Round(v))
		if c < 0 || c > MaxCoordinate {
			return Point{}, fmt.Errorf("coordinate %v outside 0-%d", v, MaxCoordinate)
		}
		p.Point[i] = c
	}
	return p, nil
}

// unmarshalJSON retries with jsonrepair after a syntax error.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}
