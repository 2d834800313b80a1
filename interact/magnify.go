package interact

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/chaos-io/cutout/mask"
)

// Magnify returns the zoom preview around device point p, or nil when the zoom
// tool is not active. It only reads the display output.
func (c *Controller) Magnify(p mask.Point) *image.RGBA {
	c.mu.Lock()
	if c.tool != ToolZoom || c.source == nil {
		c.mu.Unlock()
		return nil
	}
	src, v := c.source, c.viewport
	zoom, size := c.opts.MagnifierZoom, c.opts.MagnifierSize
	c.mu.Unlock()

	display := src.Display()
	if display == nil {
		return nil
	}
	b := display.Bounds()
	if v.CanvasW == 0 || v.CanvasH == 0 {
		v.CanvasW, v.CanvasH = b.Dx(), b.Dy()
	}
	at := v.ToCanvas(p)
	// the display output may be rendered at a different size than the canvas
	at.X *= float64(b.Dx()) / float64(v.CanvasW)
	at.Y *= float64(b.Dy()) / float64(v.CanvasH)

	return Magnify(display, image.Pt(int(math.Floor(at.X)), int(math.Floor(at.Y))), zoom, size)
}

// Magnify scales the size/zoom square of src centred on at into a size×size
// preview with nearest-neighbour sampling. Parts outside src stay transparent.
func Magnify(src image.Image, at image.Point, zoom float64, size int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	if src == nil || size <= 0 || zoom <= 0 {
		return out
	}
	side := max(1, int(math.Round(float64(size)/zoom)))
	origin := src.Bounds().Min.Add(at).Sub(image.Pt(side/2, side/2))

	patch := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(patch, patch.Bounds(), src, origin, draw.Src)
	draw.NearestNeighbor.Scale(out, out.Bounds(), patch, patch.Bounds(), draw.Src, nil)
	return out
}
