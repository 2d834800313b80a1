package segment

import (
	"context"
	"image"
	"image/color"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/util"
)

// ColorKey is a local segmenter for flat backgrounds: the background colour is
// the mean of the four corner patches and everything within Threshold of it
// becomes transparent.
type ColorKey struct {
	Threshold    float64
	MaxDimension int
}

const cornerPatch = 4

func NewColorKey(threshold float64, maxDimension int) *ColorKey {
	if threshold <= 0 {
		threshold = mask.DefaultThreshold
	}
	return &ColorKey{Threshold: threshold, MaxDimension: maxDimension}
}

func (k *ColorKey) Remove(ctx context.Context, data []byte, progress func(float64)) (image.Image, error) {
	report(progress, 0)
	img, err := util.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := resizeWithinMax(toNRGBA(img), k.MaxDimension)
	report(progress, 0.3)

	// 已有透明通道的输入直接使用
	if hasUsefulAlpha(src) {
		report(progress, 1)
		return src, nil
	}

	out := image.NewNRGBA(src.Rect)
	copy(out.Pix, src.Pix)
	key := cornerColour(src)
	for i := 0; i < len(out.Pix); i += 4 {
		c := color.NRGBA{R: out.Pix[i], G: out.Pix[i+1], B: out.Pix[i+2], A: 255}
		if mask.Distance(c, key) < k.Threshold {
			out.Pix[i+3] = 0
		}
	}
	report(progress, 0.9)

	if !hasSubject(out, 0.5) {
		return nil, ErrNoSubject
	}
	report(progress, 1)
	return out, nil
}

func cornerColour(img *image.NRGBA) color.NRGBA {
	b := img.Bounds()
	p := min(cornerPatch, b.Dx(), b.Dy())
	corners := []image.Rectangle{
		image.Rect(b.Min.X, b.Min.Y, b.Min.X+p, b.Min.Y+p),
		image.Rect(b.Max.X-p, b.Min.Y, b.Max.X, b.Min.Y+p),
		image.Rect(b.Min.X, b.Max.Y-p, b.Min.X+p, b.Max.Y),
		image.Rect(b.Max.X-p, b.Max.Y-p, b.Max.X, b.Max.Y),
	}
	var r, g, bl, n int
	for _, c := range corners {
		for y := c.Min.Y; y < c.Max.Y; y++ {
			for x := c.Min.X; x < c.Max.X; x++ {
				px := img.NRGBAAt(x, y)
				r, g, bl = r+int(px.R), g+int(px.G), bl+int(px.B)
				n++
			}
		}
	}
	if n == 0 {
		return color.NRGBA{A: 255}
	}
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: 255}
}
