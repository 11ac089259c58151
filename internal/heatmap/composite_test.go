package heatmap

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/oct-api/internal/gradcam"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestJetPalette(t *testing.T) {
	assert.Equal(t, color.NRGBA{0, 0, 128, 255}, Jet[0])
	assert.Equal(t, color.NRGBA{128, 0, 0, 255}, Jet[255])

	mid := Jet[128]
	assert.Equal(t, uint8(255), mid.G)
	assert.Less(t, mid.R, uint8(140))
	assert.Less(t, mid.B, uint8(140))

	low, high := Jet[20], Jet[235]
	assert.Greater(t, low.B, low.R)
	assert.Greater(t, high.R, high.B)
}

func TestBlendSaturatedInputs(t *testing.T) {
	cases := []struct{ original, heat uint8 }{
		{0, 0}, {0, 255}, {255, 0}, {255, 255}, {128, 255}, {255, 128},
	}
	for _, c := range cases {
		got := BlendSample(c.original, c.heat)
		want := 0.6*float64(c.original) + 0.4*float64(c.heat)
		assert.InDelta(t, want, float64(got), 1, "blend(%d, %d)", c.original, c.heat)
	}

	white := solid(4, 4, color.NRGBA{255, 255, 255, 255})
	black := solid(4, 4, color.NRGBA{0, 0, 0, 255})

	out := Blend(black, white)
	assert.Equal(t, color.NRGBA{102, 102, 102, 255}, out.NRGBAAt(1, 1))

	out = Blend(white, black)
	assert.Equal(t, color.NRGBA{153, 153, 153, 255}, out.NRGBAAt(1, 1))

	out = Blend(white, white)
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(2, 3))
}

func TestCompositeZeroMapIsUniformTint(t *testing.T) {
	original := solid(40, 30, color.NRGBA{90, 120, 200, 255})
	m := &gradcam.Map{Width: 7, Height: 7, Values: make([]float64, 49)}

	out := Composite(m, original)
	require.Equal(t, original.Bounds(), out.Bounds())

	want := color.NRGBA{
		R: BlendSample(90, Jet[0].R),
		G: BlendSample(120, Jet[0].G),
		B: BlendSample(200, Jet[0].B),
		A: 255,
	}
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			require.Equal(t, want, out.NRGBAAt(x, y))
		}
	}
}

func TestCompositeDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	m := &gradcam.Map{Width: 5, Height: 4, Values: make([]float64, 20)}
	for i := range m.Values {
		m.Values[i] = r.Float64()
	}
	original := image.NewNRGBA(image.Rect(0, 0, 33, 21))
	r.Read(original.Pix)

	first := Composite(m, original)
	second := Composite(m, original)
	assert.Equal(t, first.Pix, second.Pix)
}

func TestUpsample(t *testing.T) {
	m := &gradcam.Map{Width: 2, Height: 2, Values: []float64{0.5, 0, 0, 0}}

	out := Upsample(m, 20, 10)
	require.Len(t, out, 200)

	var peak float64
	for _, v := range out {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		peak = max(peak, v)
	}
	assert.Equal(t, 1.0, peak)
	// the hot cell is the top-left one
	assert.Greater(t, out[0], out[len(out)-1])
}

func TestUpsampleZero(t *testing.T) {
	m := &gradcam.Map{Width: 3, Height: 3, Values: make([]float64, 9)}
	for _, v := range Upsample(m, 8, 8) {
		assert.Zero(t, v)
	}
	assert.Len(t, Upsample(nil, 4, 4), 16)
}

func TestQuantize(t *testing.T) {
	assert.Equal(t, []uint8{0, 127, 255, 255, 0}, Quantize([]float64{0, 0.5, 1, 1.2, -0.3}))
}
