// Package editor holds the live editing state of one batch item: its mask,
// parameters, background asset and undo history. A Session is the Painter the
// interaction controller commits strokes to and the source of every preview
// and export.
package editor

import (
	"image"
	"image/color"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/compose"
	"github.com/chaos-io/cutout/export"
	"github.com/chaos-io/cutout/history"
	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/params"
	"github.com/chaos-io/cutout/taskconfig"
	"github.com/chaos-io/cutout/util"
)

type Options struct {
	MagicBrush      bool
	Threshold       float64
	Thresholds      params.Thresholds
	HistoryCapacity int
	DebounceWindow  time.Duration
}

func DefaultOptions() Options {
	return Options{
		MagicBrush:      true,
		Threshold:       mask.DefaultThreshold,
		Thresholds:      params.DefaultThresholds(),
		HistoryCapacity: history.DefaultCapacity,
		DebounceWindow:  history.DefaultWindow,
	}
}

type Session struct {
	mu       sync.Mutex
	id       string
	original image.Image
	subject  image.Image
	layer    *mask.Mask
	params   params.Params
	bgAsset  image.Image
	bgGen    uint64
	sample   *color.NRGBA
	opts     Options

	// snap is an immutable copy of layer taken at snapVersion; history entries
	// share it until the layer changes again.
	snap        *mask.Mask
	snapOf      *mask.Mask
	snapVersion uint64

	history *history.Manager
	comp    *compose.Compositor
}

// New opens a session on a segmented item, restoring cfg. The background
// colour for the magic brush is sampled from where the segmenter cut the
// original away.
func New(id string, original, subject image.Image, cfg taskconfig.Config, opts Options) *Session {
	s := &Session{
		id:       id,
		original: original,
		subject:  subject,
		layer:    mask.Initialize(subject, cfg.Mask),
		params:   cfg.Params.Clamp(),
		opts:     opts,
		history:  history.New(opts.HistoryCapacity, opts.DebounceWindow),
		comp:     compose.New(),
	}
	if original != nil && subject != nil {
		if c, ok := mask.DetectBackground(original, subject); ok {
			s.sample = &c
		}
	}
	s.history.Record(s.entryLocked())
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Original() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.original
}

func (s *Session) Subject() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject
}

func (s *Session) Params() params.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Snapshot returns an immutable copy of the current mask.
func (s *Session) Snapshot() *mask.Mask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() *mask.Mask {
	if s.layer == nil {
		return nil
	}
	if s.snap == nil || s.snapOf != s.layer || s.snapVersion != s.layer.Version() {
		s.snap = s.layer.Clone()
		s.snapOf = s.layer
		s.snapVersion = s.layer.Version()
	}
	return s.snap
}

func (s *Session) entryLocked() history.Entry {
	return history.Entry{Mask: s.snapshotLocked(), Params: s.params}
}

// Config is the state to write back into the task config store.
func (s *Session) Config() taskconfig.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return taskconfig.Config{Params: s.params, Mask: s.snapshotLocked()}
}

// Load replaces params with cfg's, e.g. after a broadcast edit made while the
// item was inactive, and checkpoints when they differ. The mask is kept.
func (s *Session) Load(cfg taskconfig.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cfg.Params.Clamp()
	if next == s.params {
		return
	}
	s.params = next
	s.history.Checkpoint(s.entryLocked())
}

// SetBackgroundAsset sets the image used by the image background mode.
func (s *Session) SetBackgroundAsset(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bgAsset = img
	s.bgGen++
}

func (s *Session) SetMagicBrush(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.MagicBrush = on
}

// BackgroundSample is the detected background colour, if any.
func (s *Session) BackgroundSample() (color.NRGBA, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sample == nil {
		return color.NRGBA{}, false
	}
	return *s.sample, true
}

// SetBackgroundSample overrides the detected background colour.
func (s *Session) SetBackgroundSample(c color.NRGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample = &c
}

// Update applies patch. Changes big enough to matter are checkpointed once the
// user stops adjusting.
func (s *Session) Update(patch params.Patch) params.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	if patch.Empty() {
		return s.params
	}

	s.params = s.params.Apply(patch)
	base := s.params
	if cur, ok := s.history.Current(); ok {
		base = cur.Params
	}
	if params.Significant(base, s.params, s.opts.Thresholds) {
		s.history.Schedule(s.entryLocked())
	}
	return s.params
}

// Erase implements interact.Painter. The stroke is in preview canvas
// coordinates.
func (s *Session) Erase(stroke mask.Stroke) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layer == nil {
		return
	}
	s.layer.Erase(s.toMaskLocked(stroke))
	s.history.Checkpoint(s.entryLocked())
}

// Restore implements interact.Painter. The stroke is in preview canvas
// coordinates.
func (s *Session) Restore(stroke mask.Stroke) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layer == nil || s.original == nil {
		return
	}
	s.layer.Restore(s.toMaskLocked(stroke), s.original, mask.RestoreOptions{
		MagicBrush: s.opts.MagicBrush,
		Sample:     s.sample,
		Threshold:  s.opts.Threshold,
	})
	s.history.Checkpoint(s.entryLocked())
}

// toMaskLocked maps a stroke from the preview canvas into mask pixels by
// undoing the subject placement: padding inset, fit scale and centring.
func (s *Session) toMaskLocked(stroke mask.Stroke) mask.Stroke {
	w, h := s.layer.Width(), s.layer.Height()
	cw, ch := s.displaySizeLocked()
	dst := compose.SubjectRect(image.Rect(0, 0, cw, ch), w, h, s.params.Padding)
	if dst.Empty() {
		return mask.Stroke{}
	}
	sx := float64(w) / float64(dst.Dx())
	sy := float64(h) / float64(dst.Dy())

	out := mask.Stroke{
		Points: make([]mask.Point, len(stroke.Points)),
		Radius: stroke.Radius * sx,
	}
	for i, p := range stroke.Points {
		out.Points[i] = mask.Point{
			X: (p.X - float64(dst.Min.X)) * sx,
			Y: (p.Y - float64(dst.Min.Y)) * sy,
		}
	}
	return out
}

// ToMask maps a preview canvas point into mask pixels.
func (s *Session) ToMask(p mask.Point) mask.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layer == nil {
		return p
	}
	out := s.toMaskLocked(mask.Stroke{Points: []mask.Point{p}, Radius: 1})
	if len(out.Points) == 0 {
		return p
	}
	return out.Points[0]
}

// AutoRestore recomputes the whole mask from the original by background
// colour. It does nothing until a background colour is known.
func (s *Session) AutoRestore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layer == nil || s.original == nil || s.sample == nil {
		return false
	}
	s.layer.AutoRestoreAll(s.original, *s.sample, s.opts.Threshold)
	s.history.Checkpoint(s.entryLocked())
	return true
}

func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.history.Undo()
	if ok {
		s.applyLocked(e)
	}
	return ok
}

func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.history.Redo()
	if ok {
		s.applyLocked(e)
	}
	return ok
}

func (s *Session) applyLocked(e history.Entry) {
	s.history.Apply(func() {
		if e.Mask != nil {
			s.layer = e.Mask.Clone()
			s.snap, s.snapOf, s.snapVersion = e.Mask, s.layer, s.layer.Version()
		}
		s.params = e.Params
	})
	util.Logger.Debug("history applied", zap.String("item", s.id), zap.Bool("mask", e.Mask != nil))
}

func (s *Session) CanUndo() bool { return s.history.CanUndo() }

func (s *Session) CanRedo() bool { return s.history.CanRedo() }

// Flush records a pending parameter checkpoint now.
func (s *Session) Flush() { s.history.Flush() }

// DisplaySize is the preview canvas: the mask at full resolution extended to
// the aspect ratio.
func (s *Session) DisplaySize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displaySizeLocked()
}

func (s *Session) displaySizeLocked() (int, int) {
	if s.layer == nil {
		return 0, 0
	}
	return compose.CanvasSize(s.layer.Width(), s.layer.Height(), 1, s.params.Aspect)
}

// Render draws the preview at w×h with the transparency checkerboard. The
// result is shared with later calls and must not be modified.
func (s *Session) Render(w, h int) *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comp.Render(compose.Input{
		Layer:             s.layer,
		Params:            s.params,
		Background:        s.bgAsset,
		BackgroundVersion: s.bgGen,
	}, compose.Options{Width: w, Height: h, Checkerboard: true})
}

// Display implements interact.Source.
func (s *Session) Display() image.Image {
	w, h := s.DisplaySize()
	if w == 0 || h == 0 {
		return nil
	}
	return s.Render(w, h)
}

// ExportRequest captures the current state for the export engine.
func (s *Session) ExportRequest(scale float64) export.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return export.Request{
		Layer:      s.snapshotLocked(),
		Params:     s.params,
		Background: s.bgAsset,
		Scale:      scale,
	}
}

type State struct {
	ID         string
	Params     params.Params
	CanUndo    bool
	CanRedo    bool
	MagicBrush bool
	HasSample  bool
	Version    uint64
}

func (s *Session) State() State {
	s.mu.Lock()
	st := State{
		ID:         s.id,
		Params:     s.params,
		MagicBrush: s.opts.MagicBrush,
		HasSample:  s.sample != nil,
	}
	if s.layer != nil {
		st.Version = s.layer.Version()
	}
	s.mu.Unlock()

	st.CanUndo = s.history.CanUndo()
	st.CanRedo = s.history.CanRedo()
	return st
}

// Close stops background timers and drops rasters. A pending parameter
// checkpoint is recorded first.
func (s *Session) Close() {
	s.history.Flush()
	s.history.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.comp.Invalidate()
	s.original, s.subject, s.bgAsset = nil, nil, nil
}
