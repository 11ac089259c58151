// Package gradcam turns a layer activation and the gradient of a class
// score with respect to it into a spatial saliency map.
package gradcam

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/Brownie44l1/oct-api/internal/model"
)

const epsilon = 1e-8

var ErrShapeMismatch = errors.New("activation and gradient shapes differ")

// Map is a row-major saliency map with values in [0, 1].
type Map struct {
	Width  int
	Height int
	Values []float64
}

func (m *Map) At(x, y int) float64 {
	return m.Values[y*m.Width+x]
}

// Max returns the largest value, or 0 for an empty map.
func (m *Map) Max() float64 {
	if len(m.Values) == 0 {
		return 0
	}
	return floats.Max(m.Values)
}

// Localize computes a class-activation map:
//
//	w_k   = mean over (y, x) of grad[y, x, k]
//	s_y,x = max(0, sum_k w_k * act[y, x, k])
//	map   = s / (max(s) + 1e-8)
//
// Negative evidence is dropped after the weighted sum, not before. An
// all-zero gradient yields an all-zero map.
func Localize(act, grad *model.FeatureMap) (*Map, error) {
	if act == nil || grad == nil {
		return nil, fmt.Errorf("gradcam: nil feature map")
	}
	if !act.SameShape(grad) {
		return nil, fmt.Errorf("%dx%dx%d vs %dx%dx%d: %w",
			act.Height, act.Width, act.Channels, grad.Height, grad.Width, grad.Channels, ErrShapeMismatch)
	}

	weights := PoolGradients(grad)
	positions := act.Height * act.Width

	out := &Map{Width: act.Width, Height: act.Height, Values: make([]float64, positions)}
	features := make([]float64, act.Channels)
	for p := 0; p < positions; p++ {
		for k := range features {
			features[k] = float64(act.Data[p*act.Channels+k])
		}
		if v := floats.Dot(weights, features); v > 0 {
			out.Values[p] = v
		}
	}

	if positions > 0 {
		floats.Scale(1/(out.Max()+epsilon), out.Values)
	}
	return out, nil
}

// PoolGradients averages the gradient over both spatial axes, giving one
// importance weight per channel.
func PoolGradients(grad *model.FeatureMap) []float64 {
	weights := make([]float64, grad.Channels)
	positions := grad.Height * grad.Width
	if positions == 0 {
		return weights
	}
	for p := 0; p < positions; p++ {
		for k := range weights {
			weights[k] += float64(grad.Data[p*grad.Channels+k])
		}
	}
	floats.Scale(1/float64(positions), weights)
	return weights
}
