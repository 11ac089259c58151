// Package imageio decodes uploaded scans into RGB images and encodes
// rendered results into self-contained PNG payloads.
package imageio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"

	_ "image/jpeg"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrDecode          = errors.New("invalid image")
	ErrTooLarge        = errors.New("image exceeds upload limit")
	ErrUnsupportedType = errors.New("unsupported image type")
)

// AllowedTypes lists the accepted media types.
var AllowedTypes = []string{
	"image/png",
	"image/jpeg",
	"image/bmp",
	"image/tiff",
	"image/webp",
}

// Validate enforces the upload size limit and the media-type allowlist.
// The type is sniffed from the content, not taken from the client.
func Validate(data []byte, maxBytes int64) (string, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%d bytes, limit %d: %w", len(data), maxBytes, ErrTooLarge)
	}
	mt := mimetype.Detect(data)
	for _, allowed := range AllowedTypes {
		if mt.Is(allowed) {
			return allowed, nil
		}
	}
	return "", fmt.Errorf("%s: %w", mt.String(), ErrUnsupportedType)
}

// Decode turns raw bytes into an opaque RGB image anchored at (0, 0).
func Decode(data []byte) (*image.NRGBA, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, "", fmt.Errorf("%w: empty image", ErrDecode)
	}
	return Opaque(imaging.Clone(img)), format, nil
}

// Opaque forces every alpha sample to 255 in place.
func Opaque(img *image.NRGBA) *image.NRGBA {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

// EncodePNG encodes img into an in-memory PNG buffer.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI wraps a PNG payload for embedding in HTML or JSON.
func DataURI(pngData []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
}
