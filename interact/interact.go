// Package interact turns pointer input into brush strokes on the active mask
// and a read-only magnifier over the display output.
package interact

import (
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/util"
)

type Tool int

const (
	ToolNone Tool = iota
	ToolCutout
	ToolZoom
)

func (t Tool) String() string {
	switch t {
	case ToolCutout:
		return "cutout"
	case ToolZoom:
		return "zoom"
	default:
		return "none"
	}
}

type Mode int

const (
	ModeErase Mode = iota
	ModeRestore
)

func (m Mode) String() string {
	if m == ModeRestore {
		return "restore"
	}
	return "erase"
}

// Overlay tag colours.
var (
	EraseTag   = color.NRGBA{R: 255, G: 64, B: 64, A: 128}
	RestoreTag = color.NRGBA{R: 64, G: 200, B: 96, A: 128}
)

// Painter receives finished strokes in canvas coordinates.
type Painter interface {
	Erase(s mask.Stroke)
	Restore(s mask.Stroke)
}

// Source provides the composited display output the magnifier samples.
type Source interface {
	Display() image.Image
}

// Viewport relates the on-screen size of the canvas to its pixel size.
type Viewport struct {
	CanvasW, CanvasH int
	ScreenW, ScreenH float64
}

// ToCanvas maps a device point into canvas pixels.
func (v Viewport) ToCanvas(p mask.Point) mask.Point {
	sx, sy := 1.0, 1.0
	if v.ScreenW > 0 && v.CanvasW > 0 {
		sx = float64(v.CanvasW) / v.ScreenW
	}
	if v.ScreenH > 0 && v.CanvasH > 0 {
		sy = float64(v.CanvasH) / v.ScreenH
	}
	return mask.Point{X: p.X * sx, Y: p.Y * sy}
}

type Options struct {
	BrushSize     float64
	CommitDelay   time.Duration
	MagnifierZoom float64
	MagnifierSize int
}

func DefaultOptions() Options {
	return Options{
		BrushSize:     40,
		CommitDelay:   300 * time.Millisecond,
		MagnifierZoom: 2.5,
		MagnifierSize: 150,
	}
}

type Controller struct {
	mu       sync.Mutex
	tool     Tool
	mode     Mode
	opts     Options
	viewport Viewport
	painter  Painter
	source   Source

	overlay *image.NRGBA
	points  []mask.Point
	drawing bool
	gen     uint64

	commitMu sync.Mutex
	last     chan struct{}
	inflight int
	onBusy   func(bool)
	wg       sync.WaitGroup
}

func New(painter Painter, source Source, opts Options) *Controller {
	d := DefaultOptions()
	if opts.BrushSize <= 0 {
		opts.BrushSize = d.BrushSize
	}
	if opts.MagnifierZoom <= 0 {
		opts.MagnifierZoom = d.MagnifierZoom
	}
	if opts.MagnifierSize <= 0 {
		opts.MagnifierSize = d.MagnifierSize
	}
	return &Controller{painter: painter, source: source, opts: opts}
}

// SetTool switches the active tab. Leaving the cutout tool abandons an
// unfinished stroke.
func (c *Controller) SetTool(t Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t != ToolCutout && c.drawing {
		c.drawing = false
		c.points = nil
		c.clearOverlayLocked()
	}
	c.tool = t
}

func (c *Controller) Tool() Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tool
}

func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

func (c *Controller) SetBrushSize(px float64) {
	if px <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.BrushSize = px
}

// SetViewport sizes the scratch overlay to the canvas.
func (c *Controller) SetViewport(v Viewport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = v
	if c.overlay == nil || c.overlay.Rect.Dx() != v.CanvasW || c.overlay.Rect.Dy() != v.CanvasH {
		c.overlay = image.NewNRGBA(image.Rect(0, 0, v.CanvasW, v.CanvasH))
	}
}

// SetPainter swaps the stroke target, e.g. when another item becomes active.
// Commits already scheduled go to the previous painter.
func (c *Controller) SetPainter(p Painter, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.painter, c.source = p, src
}

// OnBusy registers fn to be told when commits start and finish.
func (c *Controller) OnBusy(fn func(busy bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBusy = fn
}

func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// Wait blocks until every scheduled commit has landed.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Overlay returns a copy of the scratch overlay.
func (c *Controller) Overlay() *image.NRGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overlay == nil {
		return image.NewNRGBA(image.Rectangle{})
	}
	out := image.NewNRGBA(c.overlay.Rect)
	copy(out.Pix, c.overlay.Pix)
	return out
}

func (c *Controller) PointerDown(p mask.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tool != ToolCutout {
		return
	}
	c.gen++
	c.clearOverlayLocked()
	c.drawing = true
	c.points = c.points[:0]
	c.stampLocked(c.viewport.ToCanvas(p))
}

func (c *Controller) PointerMove(p mask.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tool != ToolCutout || !c.drawing {
		return
	}
	c.stampLocked(c.viewport.ToCanvas(p))
}

// PointerUp ends the stroke and commits it after the configured delay. Commits
// run one at a time in the order they were made.
func (c *Controller) PointerUp() {
	c.mu.Lock()
	if c.tool != ToolCutout || !c.drawing {
		c.mu.Unlock()
		return
	}
	c.drawing = false
	stroke := mask.Stroke{
		Points: append([]mask.Point(nil), c.points...),
		Radius: c.opts.BrushSize / 2,
	}
	mode, painter, gen, delay := c.mode, c.painter, c.gen, c.opts.CommitDelay
	c.points = nil
	c.setBusyLocked(+1)
	prev := c.last
	done := make(chan struct{})
	c.last = done
	c.mu.Unlock()

	c.wg.Add(1)
	commit := func() {
		defer c.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		c.commitMu.Lock()
		defer c.commitMu.Unlock()
		c.commit(painter, mode, stroke, gen)
	}
	if delay <= 0 {
		commit()
		return
	}
	go func() {
		time.Sleep(delay)
		commit()
	}()
}

func (c *Controller) commit(painter Painter, mode Mode, stroke mask.Stroke, gen uint64) {
	if painter != nil && len(stroke.Points) > 0 {
		util.Logger.Debug("commit stroke",
			zap.Stringer("mode", mode),
			zap.Int("points", len(stroke.Points)),
			zap.Float64("radius", stroke.Radius))
		if mode == ModeRestore {
			painter.Restore(stroke)
		} else {
			painter.Erase(stroke)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// a stroke started in the meantime owns the overlay now
	if gen == c.gen && !c.drawing {
		c.clearOverlayLocked()
	}
	c.setBusyLocked(-1)
}

func (c *Controller) setBusyLocked(delta int) {
	was := c.inflight > 0
	c.inflight += delta
	now := c.inflight > 0
	if was != now && c.onBusy != nil {
		c.onBusy(now)
	}
}

func (c *Controller) stampLocked(p mask.Point) {
	c.points = append(c.points, p)
	if c.overlay == nil {
		return
	}
	tag := EraseTag
	if c.mode == ModeRestore {
		tag = RestoreTag
	}
	r := c.opts.BrushSize / 2
	b := c.overlay.Rect
	x0 := max(b.Min.X, int(math.Floor(p.X-r)))
	y0 := max(b.Min.Y, int(math.Floor(p.Y-r)))
	x1 := min(b.Max.X, int(math.Ceil(p.X+r))+1)
	y1 := min(b.Max.Y, int(math.Ceil(p.Y+r))+1)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			dx, dy := float64(x)+0.5-p.X, float64(y)+0.5-p.Y
			if dx*dx+dy*dy <= r*r {
				c.overlay.SetNRGBA(x, y, tag)
			}
		}
	}
}

func (c *Controller) clearOverlayLocked() {
	if c.overlay == nil {
		return
	}
	clear(c.overlay.Pix)
}
