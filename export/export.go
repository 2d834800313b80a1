// Package export flattens an editor state into a file: a single PNG at a
// chosen scale and aspect, size estimates for quality tiers, or a ZIP of many
// items. It uses the same compositing path as the on-screen preview minus the
// checkerboard.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/cutout/compose"
	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/params"
	"github.com/chaos-io/cutout/util"
)

var ErrNoLayer = errors.New("nothing to export")

// DefaultScales are the quality tiers offered to the user.
var DefaultScales = []float64{1, 0.7, 0.4}

type Request struct {
	Layer      *mask.Mask
	Params     params.Params
	Background image.Image
	Scale      float64
}

// Size is the output size of req: the layer scaled, then extended to the
// aspect ratio.
func (r Request) Size() (int, int) {
	if r.Layer == nil {
		return 0, 0
	}
	scale := r.Scale
	if scale <= 0 {
		scale = 1
	}
	return compose.CanvasSize(r.Layer.Width(), r.Layer.Height(), scale, r.Params.Aspect)
}

// Render produces the flattened raster for req with a true alpha channel.
func Render(req Request) (*image.RGBA, error) {
	if req.Layer == nil {
		return nil, ErrNoLayer
	}
	w, h := req.Size()
	return compose.Render(compose.Input{
		Layer:      req.Layer,
		Params:     req.Params,
		Background: req.Background,
	}, compose.Options{Width: w, Height: h}), nil
}

// Encode writes img as PNG.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imgio.PNGEncoder()(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

type Tier struct {
	Scale  float64
	Width  int
	Height int
	Bytes  int
	Label  string
}

type Job struct {
	Name    string
	Request Request
}

// Engine runs exports one at a time; a second request waits for the first.
type Engine struct {
	mu            sync.Mutex
	maxConcurrent int
}

func NewEngine(maxConcurrent int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Engine{maxConcurrent: maxConcurrent}
}

// Export renders and encodes req. When the result is empty the fallback, the
// previously exported file, is returned instead.
func (e *Engine) Export(req Request, fallback []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	img, err := Render(req)
	if err != nil {
		if fallback != nil {
			return fallback, nil
		}
		return nil, err
	}
	data, err := encodeNonEmpty(img)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		util.Logger.Warn("empty export, using previous file", zap.Int("fallback", len(fallback)))
		return fallback, nil
	}
	return data, nil
}

func encodeNonEmpty(img *image.RGBA) ([]byte, error) {
	if img.Bounds().Empty() {
		return nil, nil
	}
	return Encode(img)
}

// Tiers renders req at every scale and reports the real encoded size.
func (e *Engine) Tiers(req Request, scales []float64) ([]Tier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(scales) == 0 {
		scales = DefaultScales
	}
	tiers := make([]Tier, 0, len(scales))
	for _, s := range scales {
		r := req
		r.Scale = s
		img, err := Render(r)
		if err != nil {
			return nil, err
		}
		data, err := encodeNonEmpty(img)
		if err != nil {
			return nil, fmt.Errorf("tier %.2f: %w", s, err)
		}
		tiers = append(tiers, Tier{
			Scale:  s,
			Width:  img.Bounds().Dx(),
			Height: img.Bounds().Dy(),
			Bytes:  len(data),
			Label:  humanize.Bytes(uint64(len(data))),
		})
	}
	return tiers, nil
}

// Archive renders jobs concurrently and writes them to w as a ZIP, in job
// order. Jobs without a layer are skipped.
func (e *Engine) Archive(ctx context.Context, w io.Writer, jobs []Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer util.Trace("archive")()

	files := make([][]byte, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)
	for i, job := range jobs {
		if job.Request.Layer == nil {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := Render(job.Request)
			if err != nil {
				return fmt.Errorf("render %s: %w", job.Name, err)
			}
			data, err := encodeNonEmpty(img)
			if err != nil {
				return fmt.Errorf("encode %s: %w", job.Name, err)
			}
			files[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	written := 0
	for i, job := range jobs {
		if files[i] == nil {
			continue
		}
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     job.Name,
			Method:   zip.Store,
			Modified: time.Now(),
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", job.Name, err)
		}
		if _, err := f.Write(files[i]); err != nil {
			return fmt.Errorf("write %s: %w", job.Name, err)
		}
		written++
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	util.Logger.Info("archive written", zap.Int("files", written))
	return nil
}

// Filename is the download name for the i-th image of an export started at
// t. i < 0 names a single export.
func Filename(t time.Time, i int) string {
	stamp := t.Format("20060102-150405")
	if i < 0 {
		return fmt.Sprintf("cutout-%s.png", stamp)
	}
	return fmt.Sprintf("cutout-%s-%03d.png", stamp, i+1)
}

// ArchiveName is the name of a batch archive started at t.
func ArchiveName(t time.Time) string {
	return fmt.Sprintf("cutout-batch-%s.zip", t.Format("20060102-150405"))
}
