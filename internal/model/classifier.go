package model

import (
	"errors"
	"math"
)

// InputSize is the spatial size the classifier expects.
const InputSize = 224

// ClassNames is the positional class table of the probability vector.
var ClassNames = []string{"CNV", "DME", "DRUSEN", "NORMAL"}

var (
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrNotDifferentiable = errors.New("classifier does not support gradient computation")
)

// Predictor runs one forward pass and returns raw per-class scores.
type Predictor interface {
	Predict(in Input) ([]float32, error)
}

// Differentiable is a Predictor that can also report the tapped layer's
// activation and the gradient of one class score with respect to it.
type Differentiable interface {
	Predictor
	ActivationsAndGradients(in Input, class int) (act, grad *FeatureMap, err error)
}

// AsDifferentiable returns p as a Differentiable, or ErrNotDifferentiable
// when p only supports inference.
func AsDifferentiable(p Predictor) (Differentiable, error) {
	d, ok := p.(Differentiable)
	if !ok {
		return nil, ErrNotDifferentiable
	}
	return d, nil
}

// Softmax converts raw scores into probabilities. The maximum is
// subtracted before exponentiating so large scores do not overflow.
func Softmax(scores []float32) []float32 {
	if len(scores) == 0 {
		return nil
	}

	maxVal := float64(scores[0])
	for _, s := range scores[1:] {
		maxVal = math.Max(maxVal, float64(s))
	}

	exps := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		exps[i] = math.Exp(float64(s) - maxVal)
		sum += exps[i]
	}

	probs := make([]float32, len(scores))
	for i, e := range exps {
		probs[i] = float32(e / sum)
	}
	return probs
}

// Argmax returns the index of the largest value; ties go to the lowest index.
func Argmax(values []float32) int {
	maxIdx := 0
	for i, v := range values {
		if v > values[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}
