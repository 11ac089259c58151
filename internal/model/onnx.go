package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXClassifier runs a classifier graph exported with a gradient head:
// besides the image it takes a one-hot target vector and returns the
// logits, the tapped layer's activation and the gradient of the targeted
// score with respect to that activation.
type ONNXClassifier struct {
	mu           sync.Mutex
	session      *ort.DynamicAdvancedSession
	Metadata     Metadata
	featureShape ort.Shape
}

// NewONNXClassifier loads the model graph and rejects graphs that do not
// export the gradient output named in the metadata.
func NewONNXClassifier(modelPath string, metadata Metadata, libPath string) (*ONNXClassifier, error) {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model inputs/outputs: %w", err)
	}

	if findInfo(inputs, metadata.InputName) == nil {
		return nil, fmt.Errorf("model has no input %q", metadata.InputName)
	}
	if findInfo(outputs, metadata.LogitsName) == nil {
		return nil, fmt.Errorf("model has no output %q", metadata.LogitsName)
	}
	if findInfo(inputs, metadata.TargetName) == nil || findInfo(outputs, metadata.GradientName) == nil {
		return nil, fmt.Errorf("model exports no gradient for layer %q: %w", metadata.LayerName, ErrNotDifferentiable)
	}

	layer := findInfo(outputs, metadata.LayerName)
	if layer == nil {
		return nil, fmt.Errorf("model has no output for layer %q", metadata.LayerName)
	}
	featureShape, err := batchOfOne(layer.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", metadata.LayerName, err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{metadata.InputName, metadata.TargetName},
		[]string{metadata.LogitsName, metadata.LayerName, metadata.GradientName},
		nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXClassifier{
		session:      session,
		Metadata:     metadata,
		featureShape: featureShape,
	}, nil
}

func findInfo(infos []ort.InputOutputInfo, name string) *ort.InputOutputInfo {
	for i := range infos {
		if infos[i].Name == name {
			return &infos[i]
		}
	}
	return nil
}

// batchOfOne pins a dynamic batch axis to 1 and requires every other
// axis to be static.
func batchOfOne(dims ort.Shape) (ort.Shape, error) {
	if len(dims) != 4 {
		return nil, fmt.Errorf("expected rank-4 feature map, got shape %v", dims)
	}
	shape := ort.NewShape(1, dims[1], dims[2], dims[3])
	for _, d := range shape[1:] {
		if d <= 0 {
			return nil, fmt.Errorf("feature map shape %v is not static", dims)
		}
	}
	return shape, nil
}

// Predict returns raw logits. The target vector is all zeros, so the
// gradient outputs are ignored.
func (c *ONNXClassifier) Predict(in Input) ([]float32, error) {
	logits, _, _, err := c.run(in, -1)
	return logits, err
}

// ActivationsAndGradients returns the tapped layer's activation and the
// gradient of the score for class with respect to it, both in NHWC order.
func (c *ONNXClassifier) ActivationsAndGradients(in Input, class int) (*FeatureMap, *FeatureMap, error) {
	if class < 0 || class >= len(c.Metadata.Classes) {
		return nil, nil, fmt.Errorf("class index %d out of range", class)
	}
	_, act, grad, err := c.run(in, class)
	return act, grad, err
}

func (c *ONNXClassifier) run(in Input, class int) ([]float32, *FeatureMap, *FeatureMap, error) {
	numClasses := len(c.Metadata.Classes)

	inputTensor, err := ort.NewTensor(ort.NewShape(in.Shape()...), in.Data)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	target := make([]float32, numClasses)
	if class >= 0 {
		target[class] = 1
	}
	targetTensor, err := ort.NewTensor(ort.NewShape(1, int64(numClasses)), target)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create target tensor: %w", err)
	}
	defer targetTensor.Destroy()

	logitsTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(numClasses)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer logitsTensor.Destroy()

	actTensor, err := ort.NewEmptyTensor[float32](c.featureShape)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create activation tensor: %w", err)
	}
	defer actTensor.Destroy()

	gradTensor, err := ort.NewEmptyTensor[float32](c.featureShape)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create gradient tensor: %w", err)
	}
	defer gradTensor.Destroy()

	c.mu.Lock()
	err = c.session.Run(
		[]ort.Value{inputTensor, targetTensor},
		[]ort.Value{logitsTensor, actTensor, gradTensor},
	)
	c.mu.Unlock()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("inference failed: %w", err)
	}

	logits := make([]float32, numClasses)
	copy(logits, logitsTensor.GetData())

	if class < 0 {
		return logits, nil, nil, nil
	}
	return logits, c.featureMap(actTensor.GetData()), c.featureMap(gradTensor.GetData()), nil
}

func (c *ONNXClassifier) featureMap(data []float32) *FeatureMap {
	d := c.featureShape
	if c.Metadata.FeatureLayout == LayoutNCHW {
		return fromNCHW(data, int(d[1]), int(d[2]), int(d[3]))
	}
	f := NewFeatureMap(int(d[1]), int(d[2]), int(d[3]))
	copy(f.Data, data)
	return f
}

func (c *ONNXClassifier) Close() error {
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			return err
		}
		c.session = nil
	}
	return ort.DestroyEnvironment()
}
