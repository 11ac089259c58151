package model

import (
	"fmt"
	"io"
)

const (
	BackendONNX   = "onnx"
	BackendNative = "native"
)

type Options struct {
	Backend      string
	ModelPath    string
	MetadataPath string
	LibraryPath  string
}

// Handle is the loaded classifier shared read-only by every request.
type Handle struct {
	Predictor Predictor
	Metadata  Metadata
}

// Load deserializes the classifier at startup. Every failure wraps
// ErrModelUnavailable.
func Load(opts Options) (*Handle, error) {
	switch opts.Backend {
	case BackendONNX, "":
		metadata, err := LoadMetadata(opts.MetadataPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		clf, err := NewONNXClassifier(opts.ModelPath, metadata, opts.LibraryPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		return &Handle{Predictor: clf, Metadata: metadata}, nil

	case BackendNative:
		clf, err := LoadNativeClassifier(opts.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		metadata := DefaultMetadata()
		metadata.LayerName = clf.LayerName()
		metadata.GradientName = ""
		metadata.PixelScale = 1.0 / 255
		return &Handle{Predictor: clf, Metadata: metadata}, nil

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrModelUnavailable, opts.Backend)
	}
}

// Close releases backend resources, if any.
func (h *Handle) Close() error {
	if c, ok := h.Predictor.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
