package model

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const kernelSize = 3

// NativeWeights is the on-disk form of a NativeClassifier.
//
// Kernels holds one 3×3×3 filter per output channel, flattened in
// (row, column, input channel) order.
type NativeWeights struct {
	LayerName string      `json:"layer_name"`
	Stride    int         `json:"stride"`
	Kernels   [][]float64 `json:"kernels"`
	ConvBias  []float64   `json:"conv_bias"`
	Dense     [][]float64 `json:"dense"`
	DenseBias []float64   `json:"dense_bias"`
}

// NativeClassifier is a small pure-Go convolutional classifier:
//
//	conv3x3(stride) -> ReLU -> [tapped layer] -> global average pool -> dense
//
// It holds no per-call state and is safe for concurrent use.
type NativeClassifier struct {
	layerName string
	stride    int
	kernels   [][]float64
	convBias  []float64
	dense     *mat.Dense
	denseBias *mat.VecDense
}

// LoadNativeClassifier reads NativeWeights from a JSON file.
func LoadNativeClassifier(path string) (*NativeClassifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	var w NativeWeights
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to parse weights: %w", err)
	}
	return NewNativeClassifier(w)
}

func NewNativeClassifier(w NativeWeights) (*NativeClassifier, error) {
	filters := len(w.Kernels)
	if filters == 0 {
		return nil, fmt.Errorf("weights define no filters")
	}
	if w.Stride <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", w.Stride)
	}
	for i, k := range w.Kernels {
		if len(k) != kernelSize*kernelSize*3 {
			return nil, fmt.Errorf("kernel %d has %d weights, want %d", i, len(k), kernelSize*kernelSize*3)
		}
	}
	if len(w.ConvBias) != filters {
		return nil, fmt.Errorf("conv bias has %d entries, want %d", len(w.ConvBias), filters)
	}
	if len(w.Dense) != len(ClassNames) || len(w.DenseBias) != len(ClassNames) {
		return nil, fmt.Errorf("dense head must have %d outputs", len(ClassNames))
	}

	dense := mat.NewDense(len(ClassNames), filters, nil)
	for c, row := range w.Dense {
		if len(row) != filters {
			return nil, fmt.Errorf("dense row %d has %d weights, want %d", c, len(row), filters)
		}
		dense.SetRow(c, row)
	}

	layerName := w.LayerName
	if layerName == "" {
		layerName = "conv_features"
	}

	return &NativeClassifier{
		layerName: layerName,
		stride:    w.Stride,
		kernels:   w.Kernels,
		convBias:  w.ConvBias,
		dense:     dense,
		denseBias: mat.NewVecDense(len(w.DenseBias), append([]float64(nil), w.DenseBias...)),
	}, nil
}

// LayerName is the name of the tapped convolutional layer.
func (n *NativeClassifier) LayerName() string {
	return n.layerName
}

func (n *NativeClassifier) Predict(in Input) ([]float32, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	return n.head(n.features(in)), nil
}

// ActivationsAndGradients differentiates the pooled dense head. For
// score_c = sum_k W[c,k]·mean(A[:,:,k]) + b_c the gradient at every
// location is W[c,k] / (h·w).
func (n *NativeClassifier) ActivationsAndGradients(in Input, class int) (*FeatureMap, *FeatureMap, error) {
	if err := checkInput(in); err != nil {
		return nil, nil, err
	}
	if class < 0 || class >= len(ClassNames) {
		return nil, nil, fmt.Errorf("class index %d out of range", class)
	}

	act := n.features(in)
	grad := NewFeatureMap(act.Height, act.Width, act.Channels)

	w := mat.Row(nil, class, n.dense)
	floats.Scale(1/float64(act.Height*act.Width), w)
	for p := 0; p < act.Height*act.Width; p++ {
		for k, v := range w {
			grad.Data[p*act.Channels+k] = float32(v)
		}
	}
	return act, grad, nil
}

// features computes ReLU(conv(in)) with zero padding; output location
// (oy, ox) is centred on input pixel (oy·stride, ox·stride).
func (n *NativeClassifier) features(in Input) *FeatureMap {
	oh := (in.Height + n.stride - 1) / n.stride
	ow := (in.Width + n.stride - 1) / n.stride
	out := NewFeatureMap(oh, ow, len(n.kernels))

	patch := make([]float64, kernelSize*kernelSize*3)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			n.patch(in, oy*n.stride, ox*n.stride, patch)
			for k, kernel := range n.kernels {
				v := floats.Dot(kernel, patch) + n.convBias[k]
				if v < 0 {
					v = 0
				}
				out.Set(oy, ox, k, float32(v))
			}
		}
	}
	return out
}

func (n *NativeClassifier) patch(in Input, cy, cx int, dst []float64) {
	i := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			y, x := cy+dy, cx+dx
			inside := y >= 0 && y < in.Height && x >= 0 && x < in.Width
			for ch := 0; ch < 3; ch++ {
				if inside {
					dst[i] = float64(in.Data[(y*in.Width+x)*3+ch])
				} else {
					dst[i] = 0
				}
				i++
			}
		}
	}
}

func (n *NativeClassifier) head(act *FeatureMap) []float32 {
	pooled := make([]float64, act.Channels)
	for p := 0; p < act.Height*act.Width; p++ {
		for k := range pooled {
			pooled[k] += float64(act.Data[p*act.Channels+k])
		}
	}
	floats.Scale(1/float64(act.Height*act.Width), pooled)

	var scores mat.VecDense
	scores.MulVec(n.dense, mat.NewVecDense(len(pooled), pooled))
	scores.AddVec(&scores, n.denseBias)

	out := make([]float32, scores.Len())
	for i := range out {
		out[i] = float32(scores.AtVec(i))
	}
	return out
}

func checkInput(in Input) error {
	if in.Height <= 0 || in.Width <= 0 || len(in.Data) != in.Height*in.Width*3 {
		return fmt.Errorf("input of %d values does not match %dx%dx3", len(in.Data), in.Height, in.Width)
	}
	return nil
}
