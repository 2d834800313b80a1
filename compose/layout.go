package compose

import (
	"image"
	"math"

	"github.com/chaos-io/cutout/params"
)

// CanvasSize returns the output size for a w×h source rendered at scale and
// extended along its short side to match aspect.
func CanvasSize(w, h int, scale float64, aspect params.Aspect) (int, int) {
	cw := max(1, int(math.Round(float64(w)*scale)))
	ch := max(1, int(math.Round(float64(h)*scale)))

	ratio, ok := aspect.Ratio()
	if !ok {
		return cw, ch
	}
	cur := float64(cw) / float64(ch)
	switch {
	case cur > ratio:
		ch = int(math.Round(float64(cw) / ratio))
	case cur < ratio:
		cw = int(math.Round(float64(ch) * ratio))
	}
	return cw, ch
}

// SubjectRect places a srcW×srcH subject inside canvas: inset by padding
// percent of the shorter canvas side, fit preserving aspect, centred.
func SubjectRect(canvas image.Rectangle, srcW, srcH, padding int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || canvas.Empty() {
		return image.Rectangle{}
	}
	cw, ch := canvas.Dx(), canvas.Dy()
	inset := int(math.Round(float64(padding) / 100 * float64(min(cw, ch))))
	aw, ah := cw-2*inset, ch-2*inset
	if aw <= 0 || ah <= 0 {
		return image.Rectangle{}
	}

	s := math.Min(float64(aw)/float64(srcW), float64(ah)/float64(srcH))
	dw := max(1, int(math.Round(float64(srcW)*s)))
	dh := max(1, int(math.Round(float64(srcH)*s)))

	x0 := canvas.Min.X + (cw-dw)/2
	y0 := canvas.Min.Y + (ch-dh)/2
	return image.Rect(x0, y0, x0+dw, y0+dh)
}
