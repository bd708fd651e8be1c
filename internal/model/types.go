package model

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

type Layout string

const (
	// LayoutNHWC is [batch, height, width, channel], the Keras default.
	LayoutNHWC Layout = "NHWC"
	// LayoutNCHW is [batch, channel, height, width].
	LayoutNCHW Layout = "NCHW"
)

const channels = 3

// Metadata is shipped next to the artifact. Classes and ImageSize belong to one trained
// artifact and must never be mixed with another artifact's values.
type Metadata struct {
	Version     string   `json:"version,omitempty"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	Layout      Layout   `json:"layout,omitempty"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// Classifier is a loaded artifact ready to answer forward passes.
type Classifier interface {
	// Run takes one preprocessed image laid out per Metadata and returns the raw per-class scores.
	Run(input []float32) ([]float32, error)
	Metadata() Metadata
	Close()
}

// ReadMetadata parses and validates the metadata file at path.
func ReadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	metadata.normalize()
	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

func (m *Metadata) normalize() {
	if m.Layout == "" {
		m.Layout = LayoutNHWC
	}
	if len(m.InputShape) == 0 && m.ImageSize > 0 {
		m.InputShape = m.ExpectedInputShape()
	}
	if len(m.OutputShape) == 0 && len(m.Classes) > 0 {
		m.OutputShape = []int64{1, int64(len(m.Classes))}
	}
}

// ExpectedInputShape is the batch-of-one tensor shape implied by ImageSize and Layout.
func (m Metadata) ExpectedInputShape() []int64 {
	size := int64(m.ImageSize)
	if m.Layout == LayoutNCHW {
		return []int64{1, channels, size, size}
	}
	return []int64{1, size, size, channels}
}

func (m Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("metadata has no classes")
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("metadata image_size must be positive, got %d", m.ImageSize)
	}
	if m.Layout != LayoutNHWC && m.Layout != LayoutNCHW {
		return fmt.Errorf("unsupported layout %q", m.Layout)
	}
	if !slices.Equal(m.InputShape, m.ExpectedInputShape()) {
		return fmt.Errorf("input_shape %v does not match %s layout at %dx%d", m.InputShape, m.Layout, m.ImageSize, m.ImageSize)
	}
	if m.OutputLen() <= 0 {
		return fmt.Errorf("invalid output_shape %v", m.OutputShape)
	}
	return nil
}

// InputLen is the number of float32 values in one input tensor.
func (m Metadata) InputLen() int {
	return product(m.InputShape)
}

func (m Metadata) OutputLen() int {
	return product(m.OutputShape)
}

func product(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range shape {
		n *= int(dim)
	}
	return n
}
