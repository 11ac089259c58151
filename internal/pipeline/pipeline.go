// Package pipeline runs one scan through normalization, classification
// and class-activation localization.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/oct-api/internal/gradcam"
	"github.com/Brownie44l1/oct-api/internal/heatmap"
	"github.com/Brownie44l1/oct-api/internal/imageio"
	"github.com/Brownie44l1/oct-api/internal/metrics"
	"github.com/Brownie44l1/oct-api/internal/model"
	"github.com/Brownie44l1/oct-api/internal/preprocess"
)

type ClassProbability struct {
	Class       string  `json:"class"`
	Probability float32 `json:"probability"`
}

// Result is the outcome of one run. Both images are PNG encoded and
// share the frame of the normalized scan.
type Result struct {
	Class         string
	ClassIndex    int
	Confidence    float32
	Probabilities []ClassProbability
	Original      []byte
	Overlay       []byte
}

// Pipeline is safe for concurrent use as long as its classifier is.
type Pipeline struct {
	classifier model.Differentiable
	metadata   model.Metadata
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New wires the stages around a loaded classifier. Classifiers that
// cannot produce gradients are rejected with model.ErrNotDifferentiable.
// logger and m may be nil.
func New(p model.Predictor, metadata model.Metadata, logger *zap.Logger, m *metrics.Metrics) (*Pipeline, error) {
	clf, err := model.AsDifferentiable(p)
	if err != nil {
		return nil, err
	}
	if metadata.ImageSize <= 0 {
		return nil, fmt.Errorf("invalid model input size %d", metadata.ImageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		classifier: clf,
		metadata:   metadata,
		logger:     logger.Named("pipeline"),
		metrics:    m,
	}, nil
}

// Run classifies a decoded scan and renders its explanation. ctx is
// checked between stages; a running classifier call is not interrupted.
func (p *Pipeline) Run(ctx context.Context, img image.Image) (*Result, error) {
	start := time.Now()

	normalized, err := preprocess.Normalize(img)
	if err != nil {
		return nil, err
	}
	input := preprocess.ToInput(normalized, p.metadata.ImageSize, p.metadata.PixelScale)
	p.metrics.ObserveStage("normalize", time.Since(start))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage := time.Now()
	scores, err := p.classifier.Predict(input)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	if len(scores) != len(model.ClassNames) {
		return nil, fmt.Errorf("classifier returned %d scores, want %d", len(scores), len(model.ClassNames))
	}
	probs := model.Softmax(scores)
	classIdx := model.Argmax(probs)
	p.metrics.ObserveStage("predict", time.Since(stage))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = time.Now()
	act, grad, err := p.classifier.ActivationsAndGradients(input, classIdx)
	if err != nil {
		return nil, fmt.Errorf("gradient query failed: %w", err)
	}
	saliency, err := gradcam.Localize(act, grad)
	if err != nil {
		return nil, err
	}
	if saliency.Max() == 0 {
		p.logger.Debug("flat saliency map", zap.String("class", model.ClassNames[classIdx]))
	}
	overlay := heatmap.Composite(saliency, normalized)
	p.metrics.ObserveStage("explain", time.Since(stage))

	stage = time.Now()
	originalPNG, err := imageio.EncodePNG(normalized)
	if err != nil {
		return nil, err
	}
	overlayPNG, err := imageio.EncodePNG(overlay)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveStage("encode", time.Since(stage))

	result := &Result{
		Class:         model.ClassNames[classIdx],
		ClassIndex:    classIdx,
		Confidence:    probs[classIdx],
		Probabilities: make([]ClassProbability, len(probs)),
		Original:      originalPNG,
		Overlay:       overlayPNG,
	}
	for i, prob := range probs {
		result.Probabilities[i] = ClassProbability{Class: model.ClassNames[i], Probability: prob}
	}
	p.metrics.ObservePrediction(result.Class)

	p.logger.Info("scan classified",
		zap.String("class", result.Class),
		zap.Float32("confidence", result.Confidence),
		zap.Int("width", normalized.Bounds().Dx()),
		zap.Int("height", normalized.Bounds().Dy()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
