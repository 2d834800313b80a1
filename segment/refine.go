package segment

import (
	"image"

	"github.com/anthonynsimon/bild/blur"
)

// RefineOptions tune the post-segmentation cleanup. Faint alpha left by the
// model (ghosts) drops to zero, near-opaque alpha snaps to 255 and the edge is
// softened with a small blur.
type RefineOptions struct {
	GhostLow   uint8
	GhostHigh  uint8
	BlurRadius float64
}

func DefaultRefineOptions() RefineOptions {
	return RefineOptions{GhostLow: 20, GhostHigh: 235, BlurRadius: 1}
}

// Refine returns a cleaned copy of subject. Colour is left alone, including
// under pixels that become transparent.
func Refine(subject image.Image, opts RefineOptions) (*image.NRGBA, error) {
	src := toNRGBA(subject)
	out := image.NewNRGBA(src.Rect)
	copy(out.Pix, src.Pix)

	for i := 3; i < len(out.Pix); i += 4 {
		switch a := out.Pix[i]; {
		case a < opts.GhostLow:
			out.Pix[i] = 0
		case a > opts.GhostHigh:
			out.Pix[i] = 255
		}
	}

	if opts.BlurRadius > 0 {
		// 只模糊 alpha：把 alpha 放进灰度图里做高斯模糊
		alpha := image.NewGray(out.Rect)
		for i, j := 3, 0; i < len(out.Pix); i, j = i+4, j+1 {
			alpha.Pix[j] = out.Pix[i]
		}
		blurred := blur.Gaussian(alpha, opts.BlurRadius)
		for i, j := 3, 0; i < len(out.Pix); i, j = i+4, j+4 {
			// 只软化边缘，已清掉的残影保持透明
			if out.Pix[i] != 0 {
				out.Pix[i] = blurred.Pix[j]
			}
		}
	}

	if !hasSubject(out, 0.5) {
		return nil, ErrNoSubject
	}
	return out, nil
}
