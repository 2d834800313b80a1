// Package cli wires the configuration into the cobra commands.
package cli

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/batch"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/editor"
	"github.com/chaos-io/cutout/interact"
	"github.com/chaos-io/cutout/params"
	"github.com/chaos-io/cutout/remote"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/util"
)

// Root carries what every command needs.
type Root struct {
	cfg *config.Config
}

func NewRoot(cfg *config.Config) *Root {
	return &Root{cfg: cfg}
}

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config) *cobra.Command {
	root := NewRoot(cfg)

	rootCmd := &cobra.Command{
		Use:   "cutout",
		Short: "Cut photo subjects out of their background",
		Long: `cutout removes photo backgrounds, refines the mask, places the subject on a
new background with optional effects and exports PNG files or a ZIP archive.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newTiersCmd(root))
	rootCmd.AddCommand(newServeStoreCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	return rootCmd
}

// remover builds the segmenter from config: the BiRefNet service when an
// endpoint is set, the local colour key otherwise, behind a result cache.
func (r *Root) remover(ctx context.Context) (segment.Remover, func()) {
	sc := r.cfg.Segment

	var base segment.Remover
	if sc.Endpoint != "" {
		base = segment.NewBiRefNet(sc.Endpoint, sc.PollInterval, sc.MaxDimension)
	} else {
		base = segment.NewColorKey(sc.KeyThreshold, sc.MaxDimension)
	}
	if sc.Timeout > 0 {
		inner := base
		base = segment.RemoverFunc(func(ctx context.Context, data []byte, progress func(float64)) (image.Image, error) {
			ctx, cancel := context.WithTimeout(ctx, sc.Timeout)
			defer cancel()
			return inner.Remove(ctx, data, progress)
		})
	}

	closer := func() {}
	var cache segment.Cache = segment.NewMemoryCache()
	if rc := r.cfg.Redis; rc.Enabled {
		redisCache := segment.NewRedisCache(rc.Addr, rc.Password, rc.DB, rc.TTL)
		if err := redisCache.Ping(ctx); err != nil {
			util.Logger.Warn("redis connection failed, using memory cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			util.Logger.Info("redis connected successfully")
			cache = redisCache
			closer = func() { _ = redisCache.Close() }
		}
	}
	return segment.NewCached(base, cache), closer
}

// remoteStore is non-nil when the user is signed in.
func (r *Root) remoteStore() *remote.HTTPStore {
	rc := r.cfg.Remote
	if rc.BaseURL == "" || rc.Token == "" {
		return nil
	}
	return remote.NewHTTPStore(rc.BaseURL, rc.Token)
}

func (r *Root) editorOptions() editor.Options {
	ec := r.cfg.Editor
	opts := editor.DefaultOptions()
	opts.MagicBrush = ec.MagicBrush
	if ec.BackgroundDistance > 0 {
		opts.Threshold = ec.BackgroundDistance
	}
	if ec.HistoryCapacity > 0 {
		opts.HistoryCapacity = ec.HistoryCapacity
	}
	if ec.DebounceWindow > 0 {
		opts.DebounceWindow = ec.DebounceWindow
	}
	return opts
}

func (r *Root) batchOptions(notify batch.Notifier) batch.Options {
	opts := batch.DefaultOptions()
	if r.cfg.Segment.MaxConcurrent > 0 {
		opts.MaxConcurrent = int64(r.cfg.Segment.MaxConcurrent)
	}
	if r.cfg.Export.MaxConcurrent > 0 {
		opts.ExportConcurrency = r.cfg.Export.MaxConcurrent
	}
	if rf := r.cfg.Refine; rf.Enabled {
		opts.Refine = &segment.RefineOptions{GhostLow: rf.GhostLow, GhostHigh: rf.GhostHigh, BlurRadius: rf.BlurRadius}
	} else {
		opts.Refine = nil
	}
	opts.Editor = r.editorOptions()
	opts.Interact = interact.Options{
		BrushSize:     float64(r.cfg.Editor.BrushSize),
		CommitDelay:   r.cfg.Editor.CommitDelay,
		MagnifierZoom: r.cfg.Editor.MagnifierZoom,
		MagnifierSize: r.cfg.Editor.MagnifierSize,
	}
	if store := r.remoteStore(); store != nil {
		opts.Uploader = store
	}
	opts.Notify = notify
	return opts
}

func readFiles(paths []string) ([]batch.File, error) {
	files := make([]batch.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, batch.File{Name: p, Data: data})
	}
	return files, nil
}

// parseHexColor accepts #rgb and #rrggbb.
func parseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// editFlags are the editor parameters settable from the command line. Only
// flags the user set end up in the patch.
type editFlags struct {
	background  string
	image       string
	color       string
	blur        float64
	shadow      bool
	reflection  bool
	brightness  int
	contrast    int
	aspect      string
	padding     int
	watermark   string
	autoRestore bool
}

func (f *editFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.background, "background", "", "Background mode: transparent, color, image")
	fl.StringVar(&f.color, "color", "#ffffff", "Background colour for --background color")
	fl.StringVar(&f.image, "background-image", "", "Background image file or http(s) URL; implies --background image")
	fl.Float64Var(&f.blur, "blur", 0, "Background blur radius (0-40)")
	fl.BoolVar(&f.shadow, "shadow", false, "Drop shadow under the subject")
	fl.BoolVar(&f.reflection, "reflection", false, "Mirror reflection below the subject")
	fl.IntVar(&f.brightness, "brightness", params.NeutralTone, "Subject brightness (50-150)")
	fl.IntVar(&f.contrast, "contrast", params.NeutralTone, "Subject contrast (50-150)")
	fl.StringVar(&f.aspect, "aspect", string(params.AspectOriginal), "Output aspect: original, 1:1, 4:3, 3:4, 16:9, 9:16")
	fl.IntVar(&f.padding, "padding", 0, "Padding around the subject in percent (0-40)")
	fl.StringVar(&f.watermark, "watermark", "", "Watermark text")
	fl.BoolVar(&f.autoRestore, "auto-restore", false, "Rebuild the mask from the detected background colour")
}

func (f *editFlags) patch(cmd *cobra.Command, defaultWatermark string) (params.Patch, error) {
	var p params.Patch
	changed := cmd.Flags().Changed

	if changed("background") {
		bg := params.Background(f.background)
		switch bg {
		case params.BackgroundTransparent, params.BackgroundColor, params.BackgroundImage:
		default:
			return p, fmt.Errorf("unsupported background %q", f.background)
		}
		p.Background = &bg
	} else if changed("background-image") {
		p.Background = params.Ptr(params.BackgroundImage)
	}
	if changed("background-image") {
		p.BackgroundImage = params.Ptr(f.image)
	}
	if changed("color") {
		c, err := parseHexColor(f.color)
		if err != nil {
			return p, err
		}
		p.BackgroundColor = &c
	}
	if changed("blur") {
		p.Blur = params.Ptr(f.blur > 0)
		p.BlurRadius = params.Ptr(f.blur)
	}
	if changed("shadow") {
		p.Shadow = params.Ptr(f.shadow)
	}
	if changed("reflection") {
		p.Reflection = params.Ptr(f.reflection)
	}
	if changed("brightness") {
		p.Brightness = params.Ptr(f.brightness)
	}
	if changed("contrast") {
		p.Contrast = params.Ptr(f.contrast)
	}
	if changed("aspect") {
		a := params.Aspect(f.aspect)
		if !a.Valid() {
			return p, fmt.Errorf("unsupported aspect %q", f.aspect)
		}
		p.Aspect = &a
	}
	if changed("padding") {
		p.Padding = params.Ptr(f.padding)
	}
	switch {
	case changed("watermark"):
		p.Watermark = params.Ptr(f.watermark)
	case defaultWatermark != "":
		p.Watermark = params.Ptr(defaultWatermark)
	}
	return p, nil
}

// asset loads --background-image; nil when the flag is unset.
func (f *editFlags) asset(ctx context.Context) (image.Image, error) {
	src := strings.TrimSpace(f.image)
	if src == "" {
		return nil, nil
	}
	var (
		img image.Image
		err error
	)
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		img, err = util.DownloadImage(ctx, src)
	} else {
		img, err = util.OpenImage(src)
	}
	if err != nil {
		return nil, fmt.Errorf("background image %s: %w", src, err)
	}
	return img, nil
}

// logEvents reports batch notifications the way a UI would show them.
func logEvents(e batch.Event) {
	switch e.Kind {
	case batch.EventSegmentFailed, batch.EventUploadFailed:
		util.Logger.Warn(e.Kind.String(), zap.String("item", e.ItemID), zap.String("file", e.Name), zap.Error(e.Err))
	default:
		util.Logger.Debug(e.Kind.String(), zap.String("item", e.ItemID), zap.String("file", e.Name))
	}
}
