// Package heatmap renders a saliency map over the scan it explains.
package heatmap

import (
	"image"
	"math"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/oct-api/internal/gradcam"
)

// Blend weights for the overlay.
const (
	OriginalWeight = 0.6
	HeatmapWeight  = 0.4
)

// Composite upsamples m to the size of original, colorizes it with the jet
// palette and blends it over original. The output is deterministic.
func Composite(m *gradcam.Map, original *image.NRGBA) *image.NRGBA {
	b := original.Bounds()
	values := Upsample(m, b.Dx(), b.Dy())
	return Blend(original, Colorize(Quantize(values), b.Dx(), b.Dy()))
}

// Upsample bilinearly resizes m to width×height and rescales the result so
// its maximum is 1. A map with no positive value stays all zero.
func Upsample(m *gradcam.Map, width, height int) []float64 {
	out := make([]float64, width*height)
	if m == nil || m.Width == 0 || m.Height == 0 || width == 0 || height == 0 {
		return out
	}

	src := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := math.Round(clamp(m.At(x, y), 0, 1) * 0xffff)
			i := src.PixOffset(x, y)
			src.Pix[i] = uint8(uint16(v) >> 8)
			src.Pix[i+1] = uint8(uint16(v))
		}
	}

	resized := resize.Resize(uint(width), uint(height), src, resize.Bilinear)
	rb := resized.Bounds()

	var peak float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g, _, _, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			v := float64(g) / 0xffff
			out[y*width+x] = v
			peak = math.Max(peak, v)
		}
	}

	if peak > 0 {
		for i := range out {
			out[i] /= peak
		}
	}
	return out
}

// Quantize scales [0, 1] values to 8-bit intensities, truncating.
func Quantize(values []float64) []uint8 {
	out := make([]uint8, len(values))
	for i, v := range values {
		out[i] = uint8(clamp(v*255, 0, 255))
	}
	return out
}

// Colorize maps width×height intensities through the jet palette.
func Colorize(levels []uint8, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, l := range levels {
		c := Jet[l]
		img.Pix[i*4] = c.R
		img.Pix[i*4+1] = c.G
		img.Pix[i*4+2] = c.B
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// Blend returns 0.6·original + 0.4·heat per channel, clamped and truncated
// to 8 bits. Both images must have the same size.
func Blend(original, heat *image.NRGBA) *image.NRGBA {
	ob, hb := original.Bounds(), heat.Bounds()
	w, h := ob.Dx(), ob.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		orow := original.Pix[original.PixOffset(ob.Min.X, ob.Min.Y+y):]
		hrow := heat.Pix[heat.PixOffset(hb.Min.X, hb.Min.Y+y):]
		drow := out.Pix[out.PixOffset(0, y):]
		for x := 0; x < w*4; x += 4 {
			for c := 0; c < 3; c++ {
				drow[x+c] = BlendSample(orow[x+c], hrow[x+c])
			}
			drow[x+3] = 0xff
		}
	}
	return out
}

// BlendSample combines one original and one heatmap sample.
func BlendSample(original, heat uint8) uint8 {
	return uint8(clamp(OriginalWeight*float64(original)+HeatmapWeight*float64(heat), 0, 255))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
