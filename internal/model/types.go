package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Feature map layouts accepted in Metadata.FeatureLayout.
const (
	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"
)

// Metadata describes a gradient-exporting classifier graph: the names of
// its inputs and outputs and the expected image geometry.
type Metadata struct {
	Classes       []string `json:"classes"`
	ImageSize     int      `json:"image_size"`
	PixelScale    float32  `json:"pixel_scale"`
	InputName     string   `json:"input_name"`
	TargetName    string   `json:"target_name"`
	LogitsName    string   `json:"logits_name"`
	LayerName     string   `json:"layer_name"`
	GradientName  string   `json:"gradient_name"`
	FeatureLayout string   `json:"feature_layout"`
}

// DefaultMetadata matches the exported OCT classifier.
func DefaultMetadata() Metadata {
	return Metadata{
		Classes:       append([]string(nil), ClassNames...),
		ImageSize:     InputSize,
		PixelScale:    1,
		InputName:     "input",
		TargetName:    "target",
		LogitsName:    "logits",
		LayerName:     "top_conv",
		GradientName:  "top_conv_grad",
		FeatureLayout: LayoutNHWC,
	}
}

// LoadMetadata reads a metadata file, filling unset fields from
// DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	metadata := DefaultMetadata()

	metaFile, err := os.ReadFile(path)
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata: %w", err)
	}

	var fromFile Metadata
	if err := json.Unmarshal(metaFile, &fromFile); err != nil {
		return metadata, fmt.Errorf("failed to parse metadata: %w", err)
	}

	metadata.merge(fromFile)
	if err := metadata.Validate(); err != nil {
		return metadata, err
	}
	return metadata, nil
}

func (m *Metadata) merge(o Metadata) {
	if len(o.Classes) > 0 {
		m.Classes = o.Classes
	}
	if o.ImageSize > 0 {
		m.ImageSize = o.ImageSize
	}
	if o.PixelScale > 0 {
		m.PixelScale = o.PixelScale
	}
	setIf(&m.InputName, o.InputName)
	setIf(&m.TargetName, o.TargetName)
	setIf(&m.LogitsName, o.LogitsName)
	setIf(&m.LayerName, o.LayerName)
	setIf(&m.GradientName, o.GradientName)
	setIf(&m.FeatureLayout, o.FeatureLayout)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks the metadata against the fixed class table.
func (m Metadata) Validate() error {
	if len(m.Classes) != len(ClassNames) {
		return fmt.Errorf("metadata lists %d classes, want %d", len(m.Classes), len(ClassNames))
	}
	for i, name := range m.Classes {
		if name != ClassNames[i] {
			return fmt.Errorf("metadata class %d is %q, want %q", i, name, ClassNames[i])
		}
	}
	if m.FeatureLayout != LayoutNHWC && m.FeatureLayout != LayoutNCHW {
		return fmt.Errorf("unknown feature layout %q", m.FeatureLayout)
	}
	return nil
}

// Input is a batch-of-one NHWC image tensor.
type Input struct {
	Height int
	Width  int
	Data   []float32
}

// NewInput allocates a zeroed height×width×3 input.
func NewInput(height, width int) Input {
	return Input{Height: height, Width: width, Data: make([]float32, height*width*3)}
}

// Shape returns the tensor shape (1, h, w, 3).
func (in Input) Shape() []int64 {
	return []int64{1, int64(in.Height), int64(in.Width), 3}
}

// FeatureMap is a batch-of-one NHWC tensor read from an internal layer, or
// the gradient of a class score with respect to it.
type FeatureMap struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

func NewFeatureMap(height, width, channels int) *FeatureMap {
	return &FeatureMap{
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float32, height*width*channels),
	}
}

func (f *FeatureMap) At(y, x, k int) float32 {
	return f.Data[(y*f.Width+x)*f.Channels+k]
}

func (f *FeatureMap) Set(y, x, k int, v float32) {
	f.Data[(y*f.Width+x)*f.Channels+k] = v
}

// SameShape reports whether f and o have identical dimensions.
func (f *FeatureMap) SameShape(o *FeatureMap) bool {
	return f.Height == o.Height && f.Width == o.Width && f.Channels == o.Channels
}

// fromNCHW reorders a channel-first buffer into a FeatureMap.
func fromNCHW(data []float32, channels, height, width int) *FeatureMap {
	f := NewFeatureMap(height, width, channels)
	plane := height * width
	for k := 0; k < channels; k++ {
		for i := 0; i < plane; i++ {
			f.Data[i*channels+k] = data[k*plane+i]
		}
	}
	return f
}
