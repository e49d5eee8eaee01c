package nn

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/tiledetect/pkg/tiling"
)

const DefaultConfidenceThreshold = 0.25
const DefaultNmsIouThreshold = 0.45

var ErrInvalidInputSize = errors.New("Model input size must be at least 1 pixel")

// Config controls tiling and the filtering of detections.
// All fractions and thresholds are clamped to [0,1]. Out of range values are never rejected.
// Config is saved in a JSON file alongside the model.
type Config struct {
	InputSize                  int                `json:"inputSize"`                  // Width and height of the square tile fed to the model (eg 640)
	OverlapFraction            float64            `json:"overlapFraction"`            // Fraction of a tile that overlaps its neighbour
	NmsIouThreshold            float64            `json:"nmsIouThreshold"`            // Boxes with IoU above this are considered duplicates
	DefaultConfidenceThreshold float32            `json:"defaultConfidenceThreshold"` // Detections below this are discarded, unless the class has its own threshold
	ClassThresholds            map[string]float32 `json:"classThresholds,omitempty"`  // Per-class overrides of DefaultConfidenceThreshold
	Classes                    []string           `json:"classes,omitempty"`          // Class names, for models that report class indices
}

// Create a new Config. Out of range values are clamped.
func NewConfig(inputSize int, overlapFraction, nmsIouThreshold float64, defaultConfidenceThreshold float32) Config {
	c := Config{
		InputSize:                  inputSize,
		OverlapFraction:            overlapFraction,
		NmsIouThreshold:            nmsIouThreshold,
		DefaultConfidenceThreshold: defaultConfidenceThreshold,
	}
	c.Sanitize()
	return c
}

// Load config from a JSON file
func LoadConfig(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &Config{
		NmsIouThreshold:            DefaultNmsIouThreshold,
		DefaultConfidenceThreshold: DefaultConfidenceThreshold,
	}
	if err := json.Unmarshal(b, config); err != nil {
		return nil, fmt.Errorf("Invalid detection config '%v': %w", filename, err)
	}
	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

func clamp01f(v float32) float32 {
	if math32.IsNaN(v) {
		return 0
	}
	return math32.Min(math32.Max(v, 0), 1)
}

// Sanitize clamps every fraction and threshold into [0,1]
func (c *Config) Sanitize() {
	c.OverlapFraction = clamp01(c.OverlapFraction)
	c.NmsIouThreshold = clamp01(c.NmsIouThreshold)
	c.DefaultConfidenceThreshold = clamp01f(c.DefaultConfidenceThreshold)
	for k, v := range c.ClassThresholds {
		c.ClassThresholds[k] = clamp01f(v)
	}
}

// Validate returns an error if the config cannot be used for detection
func (c *Config) Validate() error {
	if c.InputSize < 1 {
		return ErrInvalidInputSize
	}
	return nil
}

// Clone returns a deep copy, so that the copy is unaffected by later threshold changes
func (c *Config) Clone() Config {
	clone := *c
	clone.ClassThresholds = maps.Clone(c.ClassThresholds)
	clone.Classes = slices.Clone(c.Classes)
	return clone
}

// Stride is the distance between neighbouring tiles. It is never less than 1.
func (c *Config) Stride() int {
	return tiling.Stride(c.InputSize, c.OverlapFraction)
}

// Threshold returns the confidence threshold for the class, falling back to DefaultConfidenceThreshold
func (c *Config) Threshold(class string) float32 {
	if t, ok := c.ClassThresholds[class]; ok {
		return t
	}
	return c.DefaultConfidenceThreshold
}

// Set a custom confidence threshold for a specific class
func (c *Config) SetClassThreshold(class string, threshold float32) {
	if c.ClassThresholds == nil {
		c.ClassThresholds = map[string]float32{}
	}
	c.ClassThresholds[class] = clamp01f(threshold)
}

// Remove the custom threshold of a class, so that it uses the default threshold
func (c *Config) RemoveClassThreshold(class string) {
	delete(c.ClassThresholds, class)
}

func (c *Config) SetDefaultConfidenceThreshold(threshold float32) {
	c.DefaultConfidenceThreshold = clamp01f(threshold)
}
