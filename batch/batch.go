// Package batch coordinates the images of one upload: segmentation runs per
// item in the background, one completed item at a time is open in an editor
// session, and the whole batch can be exported as an archive.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/sync/semaphore"

	"github.com/chaos-io/cutout/editor"
	"github.com/chaos-io/cutout/export"
	"github.com/chaos-io/cutout/interact"
	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/params"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/taskconfig"
	"github.com/chaos-io/cutout/util"
)

var (
	ErrUnknownItem   = errors.New("unknown batch item")
	ErrNotSelectable = errors.New("batch item is not ready for editing")
	ErrNoActive      = errors.New("no active batch item")
)

// Uploader stores a finished raster remotely and returns where it went.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// ConfigLoader finds the editor state saved for an input in an earlier run.
type ConfigLoader interface {
	Load(ctx context.Context, hash string) (taskconfig.Config, bool, error)
}

type Options struct {
	MaxConcurrent     int64
	Refine            *segment.RefineOptions // nil skips the cleanup pass
	Editor            editor.Options
	Interact          interact.Options
	ExportConcurrency int
	Uploader          Uploader
	Saved             ConfigLoader
	Notify            Notifier
}

func DefaultOptions() Options {
	refine := segment.DefaultRefineOptions()
	return Options{
		MaxConcurrent:     3,
		Refine:            &refine,
		Editor:            editor.DefaultOptions(),
		Interact:          interact.DefaultOptions(),
		ExportConcurrency: 4,
	}
}

type Orchestrator struct {
	mu      sync.Mutex
	remover segment.Remover
	opts    Options

	// gen changes on Reset; work started under an older gen is discarded.
	ctx    context.Context
	cancel context.CancelFunc
	gen    uint64
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	items      []*Item
	byID       map[string]*Item
	sessions   map[string]*editor.Session
	lastExport map[string][]byte
	active     string
	bgAsset    image.Image

	configs *taskconfig.Store
	urls    *URLs
	engine  *export.Engine
	ctrl    *interact.Controller
}

func New(remover segment.Remover, opts Options) *Orchestrator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		remover:    remover,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		sem:        semaphore.NewWeighted(opts.MaxConcurrent),
		byID:       make(map[string]*Item),
		sessions:   make(map[string]*editor.Session),
		lastExport: make(map[string][]byte),
		configs:    taskconfig.New(),
		urls:       NewURLs(),
		engine:     export.NewEngine(opts.ExportConcurrency),
		ctrl:       interact.New(nil, nil, opts.Interact),
	}
}

// AddFiles queues files for segmentation and returns their ids in order.
// Each file is processed in its own goroutine; completion order is not
// defined. Cancelling ctx abandons the files that have not finished.
func (o *Orchestrator) AddFiles(ctx context.Context, files []File) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(files))
	for _, f := range files {
		it := &Item{
			ID:     ksuid.New().String(),
			Name:   f.Name,
			Hash:   util.BytesMD5(f.Data),
			Status: StatusPending,
		}
		o.items = append(o.items, it)
		o.byID[it.ID] = it
		o.configs.Register(it.ID)
		ids = append(ids, it.ID)

		o.wg.Add(1)
		go o.process(ctx, o.ctx, o.gen, *it, f.Data)
	}
	util.Logger.Info("files added", zap.Int("count", len(files)))
	return ids
}

func (o *Orchestrator) process(caller, batch context.Context, gen uint64, it Item, data []byte) {
	defer o.wg.Done()
	ctx, cancel := context.WithCancel(batch)
	defer cancel()
	stop := context.AfterFunc(caller, cancel)
	defer stop()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.fail(gen, it, err)
		return
	}
	defer o.sem.Release(1)

	if !o.update(gen, it.ID, func(item *Item) { item.Status = StatusProcessing }) {
		return
	}

	original, subject, err := o.segment(ctx, gen, it.ID, data)
	if err != nil {
		o.fail(gen, it, err)
		return
	}

	saved := o.loadSaved(ctx, it)
	ok := o.update(gen, it.ID, func(item *Item) {
		item.Status = StatusCompleted
		item.Progress = 100
		item.Original = original
		item.Subject = subject
		item.ObjectURL = o.urls.Create(subject)
		if saved != nil {
			o.configs.Restore(item.ID, *saved)
		}
	})
	if !ok {
		return
	}
	util.Logger.Info("item completed", zap.String("item", it.ID), zap.String("name", it.Name))
	o.notify(Event{Kind: EventCompleted, ItemID: it.ID, Name: it.Name})

	if o.opts.Uploader != nil {
		o.upload(ctx, gen, it, original, subject)
	}
}

// segment returns the original, sized to match the subject, and the cleaned
// subject.
func (o *Orchestrator) segment(ctx context.Context, gen uint64, id string, data []byte) (image.Image, image.Image, error) {
	defer util.Trace("segment " + id)()

	original, err := util.DecodeImage(data)
	if err != nil {
		return nil, nil, err
	}

	cut, err := o.remover.Remove(ctx, data, func(f float64) {
		o.update(gen, id, func(it *Item) {
			// 100 is reserved for completion
			if p := min(int(math.Round(f*100)), 99); p > it.Progress {
				it.Progress = p
			}
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("segment: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	subject := cut
	if o.opts.Refine != nil {
		refined, err := segment.Refine(cut, *o.opts.Refine)
		if err != nil {
			return nil, nil, fmt.Errorf("refine: %w", err)
		}
		subject = refined
	}
	return fitTo(original, subject.Bounds().Size()), subject, nil
}

// fitTo scales img to size; segmenters may downscale their input.
func fitTo(img image.Image, size image.Point) image.Image {
	if img.Bounds().Size() == size {
		return img
	}
	dst := image.NewNRGBA(image.Rectangle{Max: size})
	draw.CatmullRom.Scale(dst, dst.Rect, img, img.Bounds(), draw.Src, nil)
	return dst
}

func (o *Orchestrator) loadSaved(ctx context.Context, it Item) *taskconfig.Config {
	if o.opts.Saved == nil {
		return nil
	}
	cfg, ok, err := o.opts.Saved.Load(ctx, it.Hash)
	if err != nil {
		util.Logger.Warn("load saved config failed", zap.String("item", it.ID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return &cfg
}

func (o *Orchestrator) upload(ctx context.Context, gen uint64, it Item, original, subject image.Image) {
	base := path.Base(filepath.ToSlash(it.Name))
	base = strings.TrimSuffix(base, path.Ext(base))
	names := []string{base + "-original.png", base + "-subject.png"}
	urls := make([]string, 2)

	for i, img := range []image.Image{original, subject} {
		data, err := util.EncodePNG(img)
		if err == nil {
			urls[i], err = o.opts.Uploader.Upload(ctx, names[i], data)
		}
		if err != nil {
			util.Logger.Warn("upload failed", zap.String("item", it.ID), zap.String("file", names[i]), zap.Error(err))
			if o.update(gen, it.ID, func(*Item) {}) {
				o.notify(Event{Kind: EventUploadFailed, ItemID: it.ID, Name: it.Name, Err: err})
			}
			return
		}
	}
	o.update(gen, it.ID, func(item *Item) {
		item.OriginalURL, item.SubjectURL = urls[0], urls[1]
	})
}

func (o *Orchestrator) fail(gen uint64, it Item, err error) {
	ok := o.update(gen, it.ID, func(item *Item) {
		item.Status = StatusError
		item.Err = err
	})
	if !ok {
		return
	}
	util.Logger.Warn("segmentation failed", zap.String("item", it.ID), zap.String("name", it.Name), zap.Error(err))
	o.notify(Event{Kind: EventSegmentFailed, ItemID: it.ID, Name: it.Name, Err: err})
}

// update runs fn on the live item unless the batch was reset since gen.
func (o *Orchestrator) update(gen uint64, id string, fn func(*Item)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return false
	}
	it, ok := o.byID[id]
	if !ok {
		return false
	}
	fn(it)
	return true
}

func (o *Orchestrator) notify(e Event) {
	if o.opts.Notify != nil {
		o.opts.Notify(e)
	}
}

// Wait blocks until every dispatched file has settled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Items returns copies of the items in upload order.
func (o *Orchestrator) Items() []Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Item, len(o.items))
	for i, it := range o.items {
		out[i] = *it
	}
	return out
}

func (o *Orchestrator) Item(id string) (Item, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	it, ok := o.byID[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// SelectActive opens id in the editor. The outgoing session is written back
// to its config first, and strokes still being committed land before the
// switch. Sessions are created on first selection and kept until Reset.
func (o *Orchestrator) SelectActive(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	it, ok := o.byID[id]
	if !ok {
		return fmt.Errorf("select %s: %w", id, ErrUnknownItem)
	}
	if it.Status != StatusCompleted {
		return fmt.Errorf("select %s (%s): %w", id, it.Status, ErrNotSelectable)
	}
	if id == o.active {
		return nil
	}

	o.ctrl.Wait()
	if out, ok := o.sessions[o.active]; ok {
		out.Flush()
		o.writeBackLocked()
	}

	sess, cached := o.sessions[id]
	if cached {
		// broadcast edits may have changed the stored params meanwhile
		if cfg, ok := o.configs.Get(id); ok {
			sess.Load(cfg)
		}
	} else {
		sess = editor.New(id, it.Original, it.Subject, o.configs.Activate(id), o.opts.Editor)
		sess.SetBackgroundAsset(o.bgAsset)
		o.sessions[id] = sess
	}
	o.active = id
	o.ctrl.SetPainter(sess, sess)

	util.Logger.Debug("item activated", zap.String("item", id), zap.Bool("cached", cached))
	return nil
}

// writeBackLocked stores the active session's state when it differs from
// the stored config.
func (o *Orchestrator) writeBackLocked() {
	sess, ok := o.sessions[o.active]
	if !ok {
		return
	}
	cfg := sess.Config()
	if cur, ok := o.configs.Get(o.active); ok && cur.Params == cfg.Params && cur.Mask == cfg.Mask {
		return
	}
	o.configs.Put(o.active, cfg)
}

func (o *Orchestrator) ActiveID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Orchestrator) Active() (*editor.Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[o.active]
	return sess, ok
}

// Controller is the pointer handler bound to the active session.
func (o *Orchestrator) Controller() *interact.Controller {
	return o.ctrl
}

func (o *Orchestrator) URLs() *URLs {
	return o.urls
}

// UpdateParams applies patch to the active item, and to every item's stored
// config while broadcast is on.
func (o *Orchestrator) UpdateParams(patch params.Patch) (params.Params, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.sessions[o.active]
	if !ok {
		return params.Params{}, ErrNoActive
	}
	targets := o.configs.Update(o.active, patch)
	p := sess.Update(patch)
	o.writeBackLocked()

	util.Logger.Debug("params updated", zap.String("item", o.active), zap.Int("targets", len(targets)))
	return p, nil
}

// SetBackgroundAsset sets the image used by the image background mode for
// every item of the batch.
func (o *Orchestrator) SetBackgroundAsset(img image.Image) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bgAsset = img
	for _, sess := range o.sessions {
		sess.SetBackgroundAsset(img)
	}
}

func (o *Orchestrator) SetBroadcast(on bool) {
	o.configs.SetBroadcast(on)
}

func (o *Orchestrator) Broadcast() bool {
	return o.configs.Broadcast()
}

// Config returns the current state of id: live for the active item, stored
// otherwise.
func (o *Orchestrator) Config(id string) (taskconfig.Config, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[id]; ok && id == o.active {
		return sess.Config(), true
	}
	return o.configs.Get(id)
}

// ExportActive encodes the active item. A failed or empty render returns the
// previous export of the same item when there is one.
func (o *Orchestrator) ExportActive(scale float64) ([]byte, error) {
	o.ctrl.Wait()

	o.mu.Lock()
	id := o.active
	sess, ok := o.sessions[id]
	fallback := o.lastExport[id]
	o.mu.Unlock()
	if !ok {
		return nil, ErrNoActive
	}

	data, err := o.engine.Export(sess.ExportRequest(scale), fallback)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.sessions[id] == sess {
		o.lastExport[id] = data
	}
	o.mu.Unlock()
	return data, nil
}

// ExportAll writes every completed item to w as a ZIP and returns how many
// were included.
func (o *Orchestrator) ExportAll(ctx context.Context, w io.Writer, scale float64) (int, error) {
	o.ctrl.Wait()

	o.mu.Lock()
	o.writeBackLocked()
	now := time.Now()
	var jobs []export.Job
	for _, it := range o.items {
		if it.Status != StatusCompleted {
			continue
		}
		jobs = append(jobs, export.Job{
			Name:    export.Filename(now, len(jobs)),
			Request: o.requestLocked(it, scale),
		})
	}
	o.mu.Unlock()

	if len(jobs) == 0 {
		return 0, export.ErrNoLayer
	}
	if err := o.engine.Archive(ctx, w, jobs); err != nil {
		return 0, fmt.Errorf("export batch: %w", err)
	}
	return len(jobs), nil
}

func (o *Orchestrator) requestLocked(it *Item, scale float64) export.Request {
	if sess, ok := o.sessions[it.ID]; ok && it.ID == o.active {
		return sess.ExportRequest(scale)
	}
	cfg := o.configs.Activate(it.ID)
	return export.Request{
		Layer:      mask.Initialize(it.Subject, cfg.Mask),
		Params:     cfg.Params,
		Background: o.bgAsset,
		Scale:      scale,
	}
}

// Dirty returns the configs changed since the last save keyed by input hash,
// so the same photo finds its edits again in a later batch.
func (o *Orchestrator) Dirty() map[string]taskconfig.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writeBackLocked()

	dirty := o.configs.Dirty()
	out := make(map[string]taskconfig.Config, len(dirty))
	for id, cfg := range dirty {
		if it, ok := o.byID[id]; ok {
			out[it.Hash] = cfg
		}
	}
	return out
}

// MarkClean acknowledges a save of configs returned by Dirty.
func (o *Orchestrator) MarkClean(saved map[string]taskconfig.Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	byID := make(map[string]taskconfig.Config, len(saved))
	for _, it := range o.items {
		if cfg, ok := saved[it.Hash]; ok {
			byID[it.ID] = cfg
		}
	}
	o.configs.MarkClean(byID)
}

// Reset cancels in-flight segmentation and releases every item, session and
// object URL. Results of cancelled work are dropped.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.cancel()
	o.gen++
	o.ctx, o.cancel = context.WithCancel(context.Background())

	sessions := o.sessions
	n := len(o.items)
	o.items = nil
	o.byID = make(map[string]*Item)
	o.sessions = make(map[string]*editor.Session)
	o.lastExport = make(map[string][]byte)
	o.active = ""
	o.configs.Reset()
	revoked := o.urls.RevokeAll()
	o.ctrl.SetPainter(nil, nil)
	o.mu.Unlock()

	o.ctrl.Wait()
	for _, sess := range sessions {
		sess.Close()
	}
	util.Logger.Info("batch reset", zap.Int("items", n), zap.Int("urls", revoked))
}

// Close resets the batch and waits for its goroutines to exit.
func (o *Orchestrator) Close() {
	o.Reset()
	o.wg.Wait()
	o.cancel()
}
