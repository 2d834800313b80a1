package mask

import (
	"image"
	"image/color"
	"math"
)

// Point is a position in mask pixel space.
type Point struct {
	X, Y float64
}

// Stroke is a brush path. A pixel is covered when its centre lies within
// Radius of any segment between consecutive points; a single point covers a
// disc.
type Stroke struct {
	Points []Point
	Radius float64
}

// RestoreOptions configures the restore brush.
type RestoreOptions struct {
	MagicBrush bool
	Sample     *color.NRGBA // background colour; magic brush is inert without it
	Threshold  float64      // zero means DefaultThreshold
}

func (o RestoreOptions) threshold() float64 {
	if o.Threshold <= 0 {
		return DefaultThreshold
	}
	return o.Threshold
}

// Erase clears alpha under the stroke.
func (m *Mask) Erase(s Stroke) {
	if m == nil {
		return
	}
	changed := false
	m.cover(s, func(x, y int) {
		off := m.img.PixOffset(x, y)
		if m.img.Pix[off+3] != 0 {
			m.img.Pix[off+3] = 0
			changed = true
		}
	})
	if changed {
		m.touch()
	}
}

// Restore copies the original colour back under the stroke and makes it
// opaque. With the magic brush on, pixels whose original colour is close to
// the background sample get alpha 0 instead.
func (m *Mask) Restore(s Stroke, original image.Image, opts RestoreOptions) {
	if m == nil || original == nil {
		return
	}
	ob := original.Bounds()
	magic := opts.MagicBrush && opts.Sample != nil
	th := opts.threshold()

	changed := false
	m.cover(s, func(x, y int) {
		p := image.Point{X: ob.Min.X + x, Y: ob.Min.Y + y}
		if !p.In(ob) {
			return
		}
		c := nrgbaAt(original, p.X, p.Y)
		if magic && Distance(c, *opts.Sample) < th {
			off := m.img.PixOffset(x, y)
			if m.img.Pix[off+3] != 0 {
				m.img.Pix[off+3] = 0
				changed = true
			}
			return
		}
		c.A = 255
		if m.img.NRGBAAt(x, y) != c {
			m.img.SetNRGBA(x, y, c)
			changed = true
		}
	})
	if changed {
		m.touch()
	}
}

// AutoRestoreAll recomputes every pixel from original: colours within
// threshold of sample become transparent, everything else opaque.
func (m *Mask) AutoRestoreAll(original image.Image, sample color.NRGBA, threshold float64) {
	if m == nil || original == nil {
		return
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	ob := original.Bounds()
	w := min(m.Width(), ob.Dx())
	h := min(m.Height(), ob.Dy())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := nrgbaAt(original, ob.Min.X+x, ob.Min.Y+y)
			if Distance(c, sample) < threshold {
				c.A = 0
			} else {
				c.A = 255
			}
			m.img.SetNRGBA(x, y, c)
		}
	}
	m.touch()
}

// DetectBackground averages the original's colour over the pixels the
// segmentation made transparent. It reports false when the subject has no
// transparent pixels.
func DetectBackground(original, subject image.Image) (color.NRGBA, bool) {
	if original == nil || subject == nil {
		return color.NRGBA{}, false
	}
	sb, ob := subject.Bounds(), original.Bounds()
	if sb.Empty() || ob.Empty() {
		return color.NRGBA{}, false
	}

	var r, g, b, n uint64
	for y := 0; y < sb.Dy(); y++ {
		for x := 0; x < sb.Dx(); x++ {
			if nrgbaAt(subject, sb.Min.X+x, sb.Min.Y+y).A >= 16 {
				continue
			}
			ox := ob.Min.X + x*ob.Dx()/sb.Dx()
			oy := ob.Min.Y + y*ob.Dy()/sb.Dy()
			c := nrgbaAt(original, ox, oy)
			r += uint64(c.R)
			g += uint64(c.G)
			b += uint64(c.B)
			n++
		}
	}
	if n == 0 {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: 255}, true
}

// Distance is the Euclidean distance between two colours in RGB space.
func Distance(a, b color.NRGBA) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// cover calls fn once for every mask pixel under the stroke.
func (m *Mask) cover(s Stroke, fn func(x, y int)) {
	if len(s.Points) == 0 || s.Radius <= 0 {
		return
	}
	r := s.Radius
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range s.Points {
		minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
		maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
	}
	area := image.Rect(
		int(math.Floor(minX-r)), int(math.Floor(minY-r)),
		int(math.Ceil(maxX+r))+1, int(math.Ceil(maxY+r))+1,
	).Intersect(m.img.Rect)
	if area.Empty() {
		return
	}

	r2 := r * r
	for y := area.Min.Y; y < area.Max.Y; y++ {
		cy := float64(y) + 0.5
		for x := area.Min.X; x < area.Max.X; x++ {
			cx := float64(x) + 0.5
			if withinPath(s.Points, cx, cy, r2) {
				fn(x, y)
			}
		}
	}
}

func withinPath(pts []Point, x, y, r2 float64) bool {
	if len(pts) == 1 {
		return dist2(pts[0], x, y) <= r2
	}
	for i := 1; i < len(pts); i++ {
		if segDist2(pts[i-1], pts[i], x, y) <= r2 {
			return true
		}
	}
	return false
}

func dist2(p Point, x, y float64) float64 {
	dx, dy := x-p.X, y-p.Y
	return dx*dx + dy*dy
}

func segDist2(a, b Point, x, y float64) float64 {
	vx, vy := b.X-a.X, b.Y-a.Y
	l2 := vx*vx + vy*vy
	if l2 == 0 {
		return dist2(a, x, y)
	}
	t := ((x-a.X)*vx + (y-a.Y)*vy) / l2
	t = math.Max(0, math.Min(1, t))
	return dist2(Point{X: a.X + t*vx, Y: a.Y + t*vy}, x, y)
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n.NRGBAAt(x, y)
	}
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}
