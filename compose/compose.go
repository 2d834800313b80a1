// Package compose flattens a subject layer, its editor parameters and an
// optional background asset into one raster.
//
// Layers are drawn bottom to top:
//
//  1. background: image (cover-fit) > colour > transparent
//  2. background blur
//  3. reflection
//  4. drop shadow, then the subject with brightness/contrast
//  5. watermark
//
// The checkerboard that stands in for transparency is a preview aid only and is
// never blurred or exported.
package compose

import (
	"image"
	"math"
	"sync"

	"github.com/anthonynsimon/bild/blur"
	"golang.org/x/image/draw"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/params"
)

type Input struct {
	Layer      *mask.Mask
	Params     params.Params
	Background image.Image // used when Params.Background is BackgroundImage
	// BackgroundVersion identifies Background for the Compositor cache and
	// must change whenever Background does.
	BackgroundVersion uint64
}

type Options struct {
	Width, Height int
	Checkerboard  bool
}

// Render is a pure function of its arguments; it always returns a new buffer.
func Render(in Input, opts Options) *image.RGBA {
	canvas := image.Rect(0, 0, opts.Width, opts.Height)
	out := image.NewRGBA(canvas)
	if canvas.Empty() {
		return out
	}

	p := in.Params.Clamp()
	bg := background(p, in.Background, canvas)
	if bg == nil && opts.Checkerboard {
		drawCheckerboard(out)
	}

	if in.Layer == nil {
		if bg != nil {
			draw.Draw(out, canvas, bg, image.Point{}, draw.Src)
		}
		return out
	}

	src := in.Layer.Image()
	dst := SubjectRect(canvas, src.Rect.Dx(), src.Rect.Dy(), p.Padding)
	// subject effects follow the subject's scale, the background blur the
	// output resolution
	k := float64(dst.Dx()) / float64(src.Rect.Dx())

	if bg != nil {
		if p.Blur && p.BlurRadius > 0 {
			bg = blur.Gaussian(bg, p.BlurRadius*outputScale(canvas, src.Rect.Dx(), src.Rect.Dy()))
		}
		draw.Draw(out, canvas, bg, image.Point{}, draw.Src)
	}

	if !dst.Empty() {
		subject := scaleTo(tone(src, p.Brightness, p.Contrast), dst.Size())
		if p.Reflection {
			drawReflection(out, subject, dst)
		}
		if p.Shadow && p.ShadowOpacity > 0 {
			drawShadow(out, subject, dst, p.ShadowOpacity, float64(p.ShadowIntensity)*k)
		}
		draw.Draw(out, dst, subject, image.Point{}, draw.Over)
	}

	if p.Watermark != "" {
		drawWatermark(out, p.Watermark)
	}
	return out
}

// outputScale is the render scale a canvas from CanvasSize was made with;
// padding does not change it.
func outputScale(canvas image.Rectangle, srcW, srcH int) float64 {
	if srcW <= 0 || srcH <= 0 {
		return 1
	}
	return math.Min(float64(canvas.Dx())/float64(srcW), float64(canvas.Dy())/float64(srcH))
}

// Compositor memoizes the last render. Mask mutations bump the mask version,
// which invalidates the entry.
type Compositor struct {
	mu  sync.Mutex
	key *cacheKey
	out *image.RGBA
}

type cacheKey struct {
	layer     *mask.Mask
	version   uint64
	params    params.Params
	hasBg     bool
	bgVersion uint64
	opts      Options
}

func New() *Compositor {
	return &Compositor{}
}

// Render returns the cached raster when nothing changed. The result is shared
// and must be treated as read-only.
func (c *Compositor) Render(in Input, opts Options) *image.RGBA {
	key := cacheKey{
		layer:     in.Layer,
		params:    in.Params,
		hasBg:     in.Background != nil,
		bgVersion: in.BackgroundVersion,
		opts:      opts,
	}
	if in.Layer != nil {
		key.version = in.Layer.Version()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil && *c.key == key {
		return c.out
	}
	c.out = Render(in, opts)
	c.key = &key
	return c.out
}

// Invalidate drops the cached raster.
func (c *Compositor) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key, c.out = nil, nil
}
