package heatmap

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

type stop struct {
	pos float64
	c   colorful.Color
}

// jet control points: dark blue, blue, cyan, yellow, red, dark red.
var jetStops = []stop{
	{0, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.375, colorful.Color{R: 0, G: 1, B: 1}},
	{0.625, colorful.Color{R: 1, G: 1, B: 0}},
	{0.875, colorful.Color{R: 1, G: 0, B: 0}},
	{1, colorful.Color{R: 0.5, G: 0, B: 0}},
}

// Jet maps an 8-bit intensity to its palette color.
var Jet = buildPalette(jetStops)

func buildPalette(stops []stop) [256]color.NRGBA {
	var lut [256]color.NRGBA
	for i := range lut {
		t := float64(i) / 255
		j := 1
		for j < len(stops)-1 && t > stops[j].pos {
			j++
		}
		lo, hi := stops[j-1], stops[j]
		c := lo.c.BlendRgb(hi.c, (t-lo.pos)/(hi.pos-lo.pos))
		r, g, b := c.Clamped().RGB255()
		lut[i] = color.NRGBA{R: r, G: g, B: b, A: 0xff}
	}
	return lut
}
