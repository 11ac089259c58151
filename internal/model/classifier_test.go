package model

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x)
	}
	return s
}

func TestSoftmax(t *testing.T) {
	cases := map[string][]float32{
		"small":    {0.1, 0.2, 0.3, 0.4},
		"negative": {-5, -1, -300, -2},
		"large":    {1000, 999, 1e6, -1e6},
		"mixed":    {88.7, -88.7, 0, 3.4e10},
		"zeros":    {0, 0, 0, 0},
	}

	for name, scores := range cases {
		t.Run(name, func(t *testing.T) {
			probs := Softmax(scores)
			require.Len(t, probs, len(scores))
			assert.InDelta(t, 1.0, sum(probs), 1e-5)
			for _, p := range probs {
				assert.False(t, math.IsNaN(float64(p)))
				assert.GreaterOrEqual(t, p, float32(0))
				assert.LessOrEqual(t, p, float32(1))
			}
		})
	}
}

func TestSoftmaxUniform(t *testing.T) {
	probs := Softmax([]float32{3, 3, 3, 3})
	want := []float32{0.25, 0.25, 0.25, 0.25}
	if diff := cmp.Diff(want, probs, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("uniform softmax mismatch (-want +got):\n%s", diff)
	}
}

func TestSoftmaxEmpty(t *testing.T) {
	assert.Nil(t, Softmax(nil))
}

func TestArgmaxTieBreak(t *testing.T) {
	assert.Equal(t, 0, Argmax([]float32{1, 1, 1, 1}))
	assert.Equal(t, 1, Argmax([]float32{0, 2, 2, 1}))
	assert.Equal(t, 3, Argmax([]float32{-4, -3, -2, -1}))
}

func TestArgmaxInvariantUnderMonotonicTransform(t *testing.T) {
	scores := []float32{0.3, -2, 7.5, 7.4}
	want := Argmax(scores)

	transforms := map[string]func(float32) float32{
		"shift":  func(x float32) float32 { return x + 100 },
		"scale":  func(x float32) float32 { return 3 * x },
		"cube":   func(x float32) float32 { return x * x * x },
		"exp":    func(x float32) float32 { return float32(math.Exp(float64(x))) },
		"linear": func(x float32) float32 { return 0.5*x - 9 },
	}
	for name, f := range transforms {
		mapped := make([]float32, len(scores))
		for i, s := range scores {
			mapped[i] = f(s)
		}
		assert.Equal(t, want, Argmax(mapped), name)
	}
	assert.Equal(t, want, Argmax(Softmax(scores)))
}

type inferenceOnly struct{}

func (inferenceOnly) Predict(Input) ([]float32, error) { return make([]float32, 4), nil }

func TestAsDifferentiable(t *testing.T) {
	_, err := AsDifferentiable(inferenceOnly{})
	require.ErrorIs(t, err, ErrNotDifferentiable)

	clf, err := NewNativeClassifier(testWeights())
	require.NoError(t, err)
	d, err := AsDifferentiable(clf)
	require.NoError(t, err)
	assert.NotNil(t, d)
}
