package handlers

import (
	"html/template"

	"github.com/Brownie44l1/oct-api/internal/pipeline"
)

// PredictionRequest carries a scan as base64 in a JSON body.
type PredictionRequest struct {
	Image []byte `json:"image"`
}

type PredictionResponse struct {
	Class         string                      `json:"class"`
	Confidence    float32                     `json:"confidence"`
	Predictions   map[string]float32          `json:"predictions"`
	Probabilities []pipeline.ClassProbability `json:"probabilities"`
	OriginalImage string                      `json:"original_image"`
	OverlayImage  string                      `json:"overlay_image"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// resultPage feeds templates/result.html. Images are data URIs already
// produced by us, so they are marked safe for src attributes.
type resultPage struct {
	Class         string
	Confidence    float32
	Probabilities []pipeline.ClassProbability
	OriginalImage template.URL
	OverlayImage  template.URL
}

type indexPage struct {
	Error       string
	MaxUploadMB int64
}
