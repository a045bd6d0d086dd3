package render

import (
	"image"
	"image/color"
	"image/draw"
)

// drawRect draws an unfilled rectangle whose stroke grows inward from the
// given corners. Both corners are inclusive.
func drawRect(img draw.Image, r image.Rectangle, c color.Color, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-s, r.Min.Y, r.Max.Y, c)
	}
}

// drawHLine sets pixels x0..x1 (inclusive) on row y, skipping anything
// outside the image
func drawHLine(img draw.Image, y, x0, x1 int, c color.Color) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 < b.Min.X || x0 >= b.Max.X {
		return
	}
	if x0 < b.Min.X {
		x0 = b.Min.X
	}
	if x1 >= b.Max.X {
		x1 = b.Max.X - 1
	}

	if nrgba, ok := img.(*image.NRGBA); ok {
		nc := color.NRGBAModel.Convert(c).(color.NRGBA)
		i := nrgba.PixOffset(x0, y)
		for x := x0; x <= x1; x++ {
			nrgba.Pix[i+0] = nc.R
			nrgba.Pix[i+1] = nc.G
			nrgba.Pix[i+2] = nc.B
			nrgba.Pix[i+3] = nc.A
			i += 4
		}
		return
	}
	for x := x0; x <= x1; x++ {
		img.Set(x, y, c)
	}
}

// drawVLine sets pixels y0..y1 (inclusive) on column x, skipping anything
// outside the image
func drawVLine(img draw.Image, x, y0, y1 int, c color.Color) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 < b.Min.Y || y0 >= b.Max.Y {
		return
	}
	if y0 < b.Min.Y {
		y0 = b.Min.Y
	}
	if y1 >= b.Max.Y {
		y1 = b.Max.Y - 1
	}

	if nrgba, ok := img.(*image.NRGBA); ok {
		nc := color.NRGBAModel.Convert(c).(color.NRGBA)
		i := nrgba.PixOffset(x, y0)
		for y := y0; y <= y1; y++ {
			nrgba.Pix[i+0] = nc.R
			nrgba.Pix[i+1] = nc.G
			nrgba.Pix[i+2] = nc.B
			nrgba.Pix[i+3] = nc.A
			i += nrgba.Stride
		}
		return
	}
	for y := y0; y <= y1; y++ {
		img.Set(x, y, c)
	}
}
