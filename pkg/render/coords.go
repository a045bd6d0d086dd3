package render

import (
	"math"

	"github.com/menta2k/vision-studio/pkg/types"
)

// ToPixelRect maps a [y1, x1, y2, x2] box on the 0-1000 scale to pixel
// coordinates and swaps corners so that x1 <= x2 and y1 <= y2.
//
// Values are not clamped: a box reaching past the image edge maps past it.
func ToPixelRect(box types.Box, width, height int) (x1, y1, x2, y2 int) {
	y1 = scale(box[0], height)
	x1 = scale(box[1], width)
	y2 = scale(box[2], height)
	x2 = scale(box[3], width)

	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return x1, y1, x2, y2
}

// PixelRectOf is ToPixelRect packed into a PixelRect
func PixelRectOf(box types.Box, width, height int) types.PixelRect {
	x1, y1, x2, y2 := ToPixelRect(box, width, height)
	return types.PixelRect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func scale(v float64, dim int) int {
	return int(math.Floor(v / types.CoordinateScale * float64(dim)))
}
