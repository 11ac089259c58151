// Package preprocess prepares an OCT scan for the classifier: it strips
// the export borders, equalizes local contrast and builds the input tensor.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/oct-api/internal/imageio"
	"github.com/Brownie44l1/oct-api/internal/model"
)

// Margins cut from each side, as fractions of height or width.
const (
	CropTop    = 0.08
	CropBottom = 0.08
	CropLeft   = 0.04
	CropRight  = 0.04
)

// Equalization parameters for the lightness channel.
const (
	ClipLimit = 2.0
	TileGrid  = 8
)

var ErrImageTooSmall = errors.New("image too small to crop")

// CropRect returns the region kept after cutting the scanner margins.
// Bounds are truncated to whole pixels.
func CropRect(width, height int) image.Rectangle {
	return image.Rect(
		int(float64(width)*CropLeft),
		int(float64(height)*CropTop),
		int(float64(width)*(1-CropRight)),
		int(float64(height)*(1-CropBottom)),
	)
}

// Crop removes the scanner and caption borders.
func Crop(img image.Image) (*image.NRGBA, error) {
	b := img.Bounds()
	rect := CropRect(b.Dx(), b.Dy())
	if rect.Empty() {
		return nil, fmt.Errorf("%dx%d: %w", b.Dx(), b.Dy(), ErrImageTooSmall)
	}
	return imageio.Opaque(imaging.Crop(img, rect.Add(b.Min))), nil
}

// Normalize crops and equalizes a decoded scan. The result is the frame
// every later stage, including the overlay, is expressed in.
func Normalize(img image.Image) (*image.NRGBA, error) {
	cropped, err := Crop(img)
	if err != nil {
		return nil, err
	}
	return Equalize(cropped)
}

// ToInput resizes img to size×size and flattens it to an NHWC tensor,
// multiplying every 8-bit sample by scale.
func ToInput(img image.Image, size int, scale float32) model.Input {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	b := resized.Bounds()

	in := model.NewInput(size, size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := (y*size + x) * 3
			in.Data[i] = float32(r>>8) * scale
			in.Data[i+1] = float32(g>>8) * scale
			in.Data[i+2] = float32(bl>>8) * scale
		}
	}
	return in
}
