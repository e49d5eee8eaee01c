package nn

import (
	"context"
	"fmt"
	"image"

	"github.com/cyclopcam/tiledetect/pkg/geom"
)

// Package nn is the object detection layer of tiled detection.
// It defines what a detection is, how we talk to a model, and the two
// passes that clean up model output: per-tile NMS, and cross-tile merging.

// RawDetection is one object reported by a model for one tile.
// Box is in the pixel space of the resized tile that was fed to the model,
// with X,Y being the top-left corner of the box (not its center).
type RawDetection struct {
	Class      string    `json:"class"`
	Confidence float32   `json:"confidence"`
	Box        geom.Rect `json:"box"`
}

// Detection is an object that survived per-tile NMS, in full image coordinates.
// Detections are never modified after creation. Merging produces new Detections.
// Identity matters: the same *Detection may be attached to several parent regions.
type Detection struct {
	Class      string       `json:"class"`
	Confidence float32      `json:"confidence"` // "Class probability"
	Geometry   geom.Polygon `json:"geometry"`
	Merged     bool         `json:"merged"` // True if this was fused from adjacent detections
}

// Create a new rectangular detection
func NewDetection(class string, confidence float32, box geom.Rect) *Detection {
	return &Detection{
		Class:      class,
		Confidence: confidence,
		Geometry:   box.Polygon(),
	}
}

// Bounds returns the bounding box of the detection's geometry
func (d *Detection) Bounds() geom.Rect {
	return d.Geometry.Bound()
}

func (d *Detection) Area() float64 {
	return d.Geometry.Area()
}

func (d *Detection) String() string {
	b := d.Bounds()
	return fmt.Sprintf("%v %.3f [x=%v, y=%v, w=%v, h=%v]", d.Class, d.Confidence, b.X, b.Y, b.Width, b.Height)
}

// Predictor is a scoped inference session on a Model.
// You MUST call Close when finished, on every path, including failure and cancellation.
type Predictor interface {
	// Predict runs the model on one tile, which has already been resized to the model's input size.
	Predict(ctx context.Context, tile image.Image) ([]RawDetection, error)

	// Close releases the session
	Close() error
}

// Model is a loaded object detection model.
// How the model is loaded, and how its raw tensors become RawDetections, is up to the implementation.
type Model interface {
	// NewPredictor acquires a session for running inference
	NewPredictor() (Predictor, error)

	// Close releases the model. No predictors may be created afterwards.
	Close() error
}
