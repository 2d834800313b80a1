package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/cutout/interact"
	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/params"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/taskconfig"
	"github.com/chaos-io/cutout/util"
)

// photo encodes a size×size white picture with a red square in the middle.
func photo(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= size/4 && x < size*3/4 && y >= size/4 && y < size*3/4 {
				c = color.NRGBA{R: 220, G: 30, B: 30, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	data, err := util.EncodePNG(img)
	require.NoError(t, err)
	return data
}

type events struct {
	mu  sync.Mutex
	all []Event
}

func (e *events) notify(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

func (e *events) kinds() []EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []EventKind
	for _, ev := range e.all {
		out = append(out, ev.Kind)
	}
	return out
}

func testOptions(ev *events) Options {
	opts := DefaultOptions()
	opts.Refine = nil
	opts.Editor.DebounceWindow = time.Hour
	opts.Interact.CommitDelay = 0
	if ev != nil {
		opts.Notify = ev.notify
	}
	return opts
}

func newOrchestrator(t *testing.T, r segment.Remover, opts Options) *Orchestrator {
	t.Helper()
	o := New(r, opts)
	t.Cleanup(o.Close)
	return o
}

func addAndWait(t *testing.T, o *Orchestrator, files ...File) []string {
	t.Helper()
	ids := o.AddFiles(context.Background(), files)
	o.Wait()
	return ids
}

func TestAddFiles(t *testing.T) {
	ev := &events{}
	o := newOrchestrator(t, segment.NewColorKey(0, 0), testOptions(ev))

	data := photo(t, 40)
	ids := addAndWait(t, o,
		File{Name: "a.png", Data: data},
		File{Name: "broken.png", Data: []byte("not an image")},
	)
	require.Len(t, ids, 2)

	items := o.Items()
	require.Len(t, items, 2)
	assert.Equal(t, ids[0], items[0].ID)

	ok := items[0]
	assert.Equal(t, StatusCompleted, ok.Status)
	assert.Equal(t, 100, ok.Progress)
	assert.Equal(t, util.BytesMD5(data), ok.Hash)
	require.NotNil(t, ok.Subject)
	_, _, _, a := ok.Subject.At(0, 0).RGBA()
	assert.Zero(t, a)
	img, found := o.URLs().Resolve(ok.ObjectURL)
	require.True(t, found)
	assert.Equal(t, ok.Subject, img)

	bad := items[1]
	assert.Equal(t, StatusError, bad.Status)
	assert.Error(t, bad.Err)
	assert.Nil(t, bad.Subject)

	assert.ElementsMatch(t, []EventKind{EventCompleted, EventSegmentFailed}, ev.kinds())
}

func TestProgressAndStatus(t *testing.T) {
	release := make(chan struct{})
	reported := make(chan struct{})
	r := segment.RemoverFunc(func(ctx context.Context, data []byte, progress func(float64)) (image.Image, error) {
		progress(0.42)
		close(reported)
		<-release
		return segment.NewColorKey(0, 0).Remove(ctx, data, nil)
	})
	o := newOrchestrator(t, r, testOptions(nil))

	ids := o.AddFiles(context.Background(), []File{{Name: "a.png", Data: photo(t, 40)}})
	<-reported

	it, ok := o.Item(ids[0])
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, it.Status)
	assert.Equal(t, 42, it.Progress)

	err := o.SelectActive(ids[0])
	assert.ErrorIs(t, err, ErrNotSelectable)
	assert.ErrorIs(t, o.SelectActive("missing"), ErrUnknownItem)

	close(release)
	o.Wait()
	require.NoError(t, o.SelectActive(ids[0]))
	assert.Equal(t, ids[0], o.ActiveID())
}

func TestConcurrencyBound(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	r := segment.RemoverFunc(func(ctx context.Context, data []byte, progress func(float64)) (image.Image, error) {
		mu.Lock()
		running++
		peak = max(peak, running)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return segment.NewColorKey(0, 0).Remove(ctx, data, nil)
	})
	opts := testOptions(nil)
	opts.MaxConcurrent = 2
	o := newOrchestrator(t, r, opts)

	data := photo(t, 20)
	files := make([]File, 6)
	for i := range files {
		files[i] = File{Name: "x.png", Data: data}
	}
	addAndWait(t, o, files...)

	assert.LessOrEqual(t, peak, 2)
	for _, it := range o.Items() {
		assert.Equal(t, StatusCompleted, it.Status)
	}
}

func TestOriginalFitsSubject(t *testing.T) {
	opts := testOptions(nil)
	refine := segment.DefaultRefineOptions()
	opts.Refine = &refine
	o := newOrchestrator(t, segment.NewColorKey(0, 20), opts)

	ids := addAndWait(t, o, File{Name: "big.png", Data: photo(t, 40)})
	it, _ := o.Item(ids[0])
	require.Equal(t, StatusCompleted, it.Status)
	assert.Equal(t, image.Pt(20, 20), it.Subject.Bounds().Size())
	assert.Equal(t, image.Pt(20, 20), it.Original.Bounds().Size())
}

func TestSwitchKeepsEdits(t *testing.T) {
	o := newOrchestrator(t, segment.NewColorKey(0, 0), testOptions(nil))
	data := photo(t, 40)
	ids := addAndWait(t, o, File{Name: "a.png", Data: data}, File{Name: "b.png", Data: data})
	a, b := ids[0], ids[1]

	require.NoError(t, o.SelectActive(a))
	sess, ok := o.Active()
	require.True(t, ok)
	sess.Erase(mask.Stroke{Points: []mask.Point{{X: 20, Y: 20}}, Radius: 4})
	edited := sess.Snapshot()

	require.NoError(t, o.SelectActive(b))
	cfg, ok := o.Config(a)
	require.True(t, ok)
	assert.Same(t, edited, cfg.Mask, "outgoing session is written back")

	other, _ := o.Active()
	assert.Equal(t, uint8(255), other.Snapshot().Alpha(20, 20), "masks are per item")

	require.NoError(t, o.SelectActive(a))
	back, _ := o.Active()
	assert.Same(t, sess, back, "sessions are cached")
	assert.Equal(t, uint8(0), back.Snapshot().Alpha(20, 20))
	assert.True(t, back.CanUndo())
}

func TestBroadcastFanOut(t *testing.T) {
	o := newOrchestrator(t, segment.NewColorKey(0, 0), testOptions(nil))
	data := photo(t, 40)
	ids := addAndWait(t, o,
		File{Name: "a.png", Data: data},
		File{Name: "b.png", Data: data},
		File{Name: "c.png", Data: data},
	)

	_, err := o.UpdateParams(params.Patch{Shadow: params.Ptr(true)})
	assert.ErrorIs(t, err, ErrNoActive)

	require.NoError(t, o.SelectActive(ids[1]))
	require.NoError(t, o.SelectActive(ids[0]))
	sess, _ := o.Active()
	sess.Erase(mask.Stroke{Points: []mask.Point{{X: 20, Y: 20}}, Radius: 4})
	before := sess.Snapshot()

	o.SetBroadcast(true)
	assert.True(t, o.Broadcast())
	p, err := o.UpdateParams(params.Patch{Shadow: params.Ptr(true)})
	require.NoError(t, err)
	assert.True(t, p.Shadow)

	for _, id := range ids {
		cfg, ok := o.Config(id)
		require.True(t, ok, id)
		assert.True(t, cfg.Params.Shadow, id)
	}
	cfg, _ := o.Config(ids[0])
	assert.Same(t, before, cfg.Mask, "masks are untouched")
	cfg, _ = o.Config(ids[2])
	assert.Nil(t, cfg.Mask, "never opened items get params only")

	// the cached session picks the broadcast up when it becomes active
	require.NoError(t, o.SelectActive(ids[1]))
	other, _ := o.Active()
	assert.True(t, other.Params().Shadow)

	o.SetBroadcast(false)
	_, err = o.UpdateParams(params.Patch{Reflection: params.Ptr(true)})
	require.NoError(t, err)
	cfg, _ = o.Config(ids[0])
	assert.False(t, cfg.Params.Reflection)
	cfg, _ = o.Config(ids[1])
	assert.True(t, cfg.Params.Reflection)
}

func TestControllerPaintsActive(t *testing.T) {
	o := newOrchestrator(t, segment.NewColorKey(0, 0), testOptions(nil))
	ids := addAndWait(t, o, File{Name: "a.png", Data: photo(t, 40)})
	require.NoError(t, o.SelectActive(ids[0]))

	ctrl := o.Controller()
	ctrl.SetTool(interact.ToolCutout)
	ctrl.SetBrushSize(8)
	ctrl.SetViewport(interact.Viewport{CanvasW: 40, CanvasH: 40, ScreenW: 40, ScreenH: 40})
	ctrl.PointerDown(mask.Point{X: 20, Y: 20})
	ctrl.PointerUp()

	sess, _ := o.Active()
	assert.Equal(t, uint8(0), sess.Snapshot().Alpha(20, 20))
	assert.Equal(t, uint8(255), sess.Snapshot().Alpha(12, 12))
}

func TestExport(t *testing.T) {
	o := newOrchestrator(t, segment.NewColorKey(0, 0), testOptions(nil))

	_, err := o.ExportActive(1)
	assert.ErrorIs(t, err, ErrNoActive)
	var empty bytes.Buffer
	_, err = o.ExportAll(context.Background(), &empty, 1)
	assert.Error(t, err)

	data := photo(t, 40)
	ids := addAndWait(t, o,
		File{Name: "a.png", Data: data},
		File{Name: "broken.png", Data: []byte("nope")},
		File{Name: "c.png", Data: data},
	)
	require.NoError(t, o.SelectActive(ids[0]))
	_, err = o.UpdateParams(params.Patch{Aspect: params.Ptr(params.Aspect16x9)})
	require.NoError(t, err)

	single, err := o.ExportActive(0.5)
	require.NoError(t, err)
	img, err := util.DecodeImage(single)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 36, 20), img.Bounds())

	var buf bytes.Buffer
	n, err := o.ExportAll(context.Background(), &buf, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	sizes := make([]image.Point, 0, 2)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		raw, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		img, err := util.DecodeImage(raw)
		require.NoError(t, err)
		sizes = append(sizes, img.Bounds().Size())
	}
	assert.Equal(t, []image.Point{{X: 71, Y: 40}, {X: 40, Y: 40}}, sizes)
}

type fakeUploader struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, name string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.names = append(f.names, name)
	return "https://store.test/" + name, nil
}

func TestUpload(t *testing.T) {
	up := &fakeUploader{}
	opts := testOptions(nil)
	opts.Uploader = up
	o := newOrchestrator(t, segment.NewColorKey(0, 0), opts)

	ids := addAndWait(t, o, File{Name: "cat.jpg", Data: photo(t, 40)})
	it, _ := o.Item(ids[0])
	assert.Equal(t, "https://store.test/cat-original.png", it.OriginalURL)
	assert.Equal(t, "https://store.test/cat-subject.png", it.SubjectURL)
	assert.Equal(t, []string{"cat-original.png", "cat-subject.png"}, up.names)

	ev := &events{}
	opts = testOptions(ev)
	opts.Uploader = &fakeUploader{err: errors.New("unauthorized")}
	failing := newOrchestrator(t, segment.NewColorKey(0, 0), opts)
	ids = addAndWait(t, failing, File{Name: "cat.jpg", Data: photo(t, 40)})

	it, _ = failing.Item(ids[0])
	assert.Equal(t, StatusCompleted, it.Status, "upload failures only notify")
	assert.Empty(t, it.SubjectURL)
	assert.Equal(t, []EventKind{EventCompleted, EventUploadFailed}, ev.kinds())
}

type savedConfigs map[string]taskconfig.Config

func (s savedConfigs) Load(_ context.Context, hash string) (taskconfig.Config, bool, error) {
	cfg, ok := s[hash]
	return cfg, ok, nil
}

func TestSavedConfigAndDirty(t *testing.T) {
	data := photo(t, 40)
	hash := util.BytesMD5(data)

	restored := mask.New(40, 40)
	saved := savedConfigs{hash: {
		Params: params.Default().Apply(params.Patch{Reflection: params.Ptr(true)}),
		Mask:   restored,
	}}
	opts := testOptions(nil)
	opts.Saved = saved
	o := newOrchestrator(t, segment.NewColorKey(0, 0), opts)

	ids := addAndWait(t, o, File{Name: "a.png", Data: data}, File{Name: "b.png", Data: photo(t, 30)})
	assert.Empty(t, o.Dirty(), "restored configs are not dirty")

	require.NoError(t, o.SelectActive(ids[0]))
	sess, _ := o.Active()
	assert.True(t, sess.Params().Reflection)
	assert.Equal(t, uint8(0), sess.Snapshot().Alpha(20, 20), "saved mask wins over the subject")

	_, err := o.UpdateParams(params.Patch{Blur: params.Ptr(true)})
	require.NoError(t, err)

	dirty := o.Dirty()
	require.Len(t, dirty, 1)
	assert.True(t, dirty[hash].Params.Blur)

	o.MarkClean(dirty)
	assert.Empty(t, o.Dirty())
}

func TestReset(t *testing.T) {
	ev := &events{}
	started := make(chan struct{})
	slow := photo(t, 24)
	r := segment.RemoverFunc(func(ctx context.Context, data []byte, progress func(float64)) (image.Image, error) {
		if bytes.Equal(data, slow) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return segment.NewColorKey(0, 0).Remove(ctx, data, nil)
	})
	o := newOrchestrator(t, r, testOptions(ev))

	ids := addAndWait(t, o, File{Name: "a.png", Data: photo(t, 40)})
	require.NoError(t, o.SelectActive(ids[0]))
	require.Equal(t, 1, o.URLs().Len())

	o.AddFiles(context.Background(), []File{{Name: "slow.png", Data: slow}})
	<-started

	o.Reset()
	o.Wait()

	assert.Empty(t, o.Items())
	assert.Empty(t, o.ActiveID())
	assert.Zero(t, o.URLs().Len())
	assert.False(t, o.Broadcast())
	_, ok := o.Active()
	assert.False(t, ok)
	assert.Equal(t, []EventKind{EventCompleted}, ev.kinds(), "cancelled work is dropped silently")

	// the batch is usable again
	ids = addAndWait(t, o, File{Name: "b.png", Data: photo(t, 40)})
	it, _ := o.Item(ids[0])
	assert.Equal(t, StatusCompleted, it.Status)
}

func TestCallerCancel(t *testing.T) {
	ev := &events{}
	r := segment.RemoverFunc(func(ctx context.Context, data []byte, progress func(float64)) (image.Image, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := newOrchestrator(t, r, testOptions(ev))

	ctx, cancel := context.WithCancel(context.Background())
	ids := o.AddFiles(ctx, []File{{Name: "a.png", Data: photo(t, 20)}})
	cancel()
	o.Wait()

	it, _ := o.Item(ids[0])
	assert.Equal(t, StatusError, it.Status)
	assert.ErrorIs(t, it.Err, context.Canceled)
	assert.Equal(t, []EventKind{EventSegmentFailed}, ev.kinds())
}

func TestURLs(t *testing.T) {
	t.Parallel()

	u := NewURLs()
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	a, b := u.Create(img), u.Create(img)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "blob:")

	u.Revoke(a)
	_, ok := u.Resolve(a)
	assert.False(t, ok)
	_, ok = u.Resolve(b)
	assert.True(t, ok)

	assert.Equal(t, 1, u.RevokeAll())
	assert.Zero(t, u.Len())
}

func TestStatusStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "upload_failed", EventUploadFailed.String())
}
