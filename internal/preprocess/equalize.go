package preprocess

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Equalize applies CLAHE to the Lab lightness channel. The a and b
// channels are merged back untouched.
func Equalize(img *image.NRGBA) (*image.NRGBA, error) {
	rgb, err := toMat(img)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap image: %w", err)
	}
	defer rgb.Close()

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(rgb, &lab, gocv.ColorRGBToLab)

	equalizeLightness(&lab)

	out := gocv.NewMat()
	defer out.Close()
	gocv.CvtColor(lab, &out, gocv.ColorLabToRGB)

	return fromMat(out), nil
}

// equalizeLightness rewrites channel 0 of an 8-bit Lab Mat in place.
func equalizeLightness(lab *gocv.Mat) {
	channels := gocv.Split(*lab)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(ClipLimit, image.Pt(TileGrid, TileGrid))
	defer clahe.Close()

	lightness := gocv.NewMat()
	defer lightness.Close()
	clahe.Apply(channels[0], &lightness)

	gocv.Merge([]gocv.Mat{lightness, channels[1], channels[2]}, lab)
}

// toMat packs an opaque image into an 8-bit three channel RGB Mat.
func toMat(img *image.NRGBA) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	buf := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			buf = append(buf, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, buf)
}

func fromMat(m gocv.Mat) *image.NRGBA {
	w, h := m.Cols(), m.Rows()
	buf := m.ToBytes()

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		out.Pix[i*4] = buf[i*3]
		out.Pix[i*4+1] = buf[i*3+1]
		out.Pix[i*4+2] = buf[i*3+2]
		out.Pix[i*4+3] = 0xff
	}
	return out
}
