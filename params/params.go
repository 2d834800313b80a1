// Package params holds the editor parameter set. Params is a value type: every
// change goes through Apply, which returns a new clamped copy, so a snapshot is a
// plain struct copy.
package params

import (
	"image/color"
	"math"
)

type Background string

const (
	BackgroundTransparent Background = "transparent"
	BackgroundColor       Background = "color"
	BackgroundImage       Background = "image"
)

const (
	MinBlurRadius    = 0
	MaxBlurRadius    = 40
	MinTone          = 50
	MaxTone          = 150
	NeutralTone      = 100
	MaxPadding       = 40
	MaxShadowOpacity = 100
	MaxShadowOffset  = 50
)

type Params struct {
	Background      Background  `json:"background"`
	BackgroundColor color.NRGBA `json:"background_color"`
	BackgroundImage string      `json:"background_image,omitempty"`

	Blur       bool    `json:"blur"`
	BlurRadius float64 `json:"blur_radius"`

	Shadow          bool `json:"shadow"`
	ShadowOpacity   int  `json:"shadow_opacity"`
	ShadowIntensity int  `json:"shadow_intensity"`

	Reflection bool `json:"reflection"`

	Brightness int `json:"brightness"`
	Contrast   int `json:"contrast"`

	Aspect  Aspect `json:"aspect"`
	Padding int    `json:"padding"`

	Watermark string `json:"watermark,omitempty"`
}

// Default is the configuration of an item nobody has edited yet.
func Default() Params {
	return Params{
		Background:      BackgroundTransparent,
		BackgroundColor: color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		BlurRadius:      10,
		ShadowOpacity:   50,
		ShadowIntensity: 10,
		Brightness:      NeutralTone,
		Contrast:        NeutralTone,
		Aspect:          AspectOriginal,
	}
}

// Patch is a partial update; nil fields are left alone.
type Patch struct {
	Background      *Background
	BackgroundColor *color.NRGBA
	BackgroundImage *string
	Blur            *bool
	BlurRadius      *float64
	Shadow          *bool
	ShadowOpacity   *int
	ShadowIntensity *int
	Reflection      *bool
	Brightness      *int
	Contrast        *int
	Aspect          *Aspect
	Padding         *int
	Watermark       *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Apply returns a copy of p with the patch applied and every field clamped to
// its range.
func (p Params) Apply(patch Patch) Params {
	if patch.Background != nil {
		p.Background = *patch.Background
	}
	if patch.BackgroundColor != nil {
		p.BackgroundColor = *patch.BackgroundColor
	}
	if patch.BackgroundImage != nil {
		p.BackgroundImage = *patch.BackgroundImage
	}
	if patch.Blur != nil {
		p.Blur = *patch.Blur
	}
	if patch.BlurRadius != nil {
		p.BlurRadius = *patch.BlurRadius
	}
	if patch.Shadow != nil {
		p.Shadow = *patch.Shadow
	}
	if patch.ShadowOpacity != nil {
		p.ShadowOpacity = *patch.ShadowOpacity
	}
	if patch.ShadowIntensity != nil {
		p.ShadowIntensity = *patch.ShadowIntensity
	}
	if patch.Reflection != nil {
		p.Reflection = *patch.Reflection
	}
	if patch.Brightness != nil {
		p.Brightness = *patch.Brightness
	}
	if patch.Contrast != nil {
		p.Contrast = *patch.Contrast
	}
	if patch.Aspect != nil {
		p.Aspect = *patch.Aspect
	}
	if patch.Padding != nil {
		p.Padding = *patch.Padding
	}
	if patch.Watermark != nil {
		p.Watermark = *patch.Watermark
	}
	return p.Clamp()
}

// Clamp forces every numeric field into its documented range and replaces
// unknown enum values with their defaults.
func (p Params) Clamp() Params {
	switch p.Background {
	case BackgroundTransparent, BackgroundColor, BackgroundImage:
	default:
		p.Background = BackgroundTransparent
	}
	if !p.Aspect.Valid() {
		p.Aspect = AspectOriginal
	}
	p.BlurRadius = math.Max(MinBlurRadius, math.Min(MaxBlurRadius, p.BlurRadius))
	p.ShadowOpacity = clampInt(p.ShadowOpacity, 0, MaxShadowOpacity)
	p.ShadowIntensity = clampInt(p.ShadowIntensity, 0, MaxShadowOffset)
	p.Brightness = clampInt(p.Brightness, MinTone, MaxTone)
	p.Contrast = clampInt(p.Contrast, MinTone, MaxTone)
	p.Padding = clampInt(p.Padding, 0, MaxPadding)
	return p
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// Thresholds are the per-field magnitudes below which a slider move is not
// worth its own history entry.
type Thresholds struct {
	BlurRadius      float64
	ShadowOpacity   int
	ShadowIntensity int
	Tone            int
	Padding         int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		BlurRadius:      0.5,
		ShadowOpacity:   1,
		ShadowIntensity: 1,
		Tone:            1,
		Padding:         1,
	}
}

// Significant reports whether next differs from prev by more than the
// thresholds. Toggles, enums, colours and text always count.
func Significant(prev, next Params, th Thresholds) bool {
	if prev.Background != next.Background ||
		prev.BackgroundColor != next.BackgroundColor ||
		prev.BackgroundImage != next.BackgroundImage ||
		prev.Blur != next.Blur ||
		prev.Shadow != next.Shadow ||
		prev.Reflection != next.Reflection ||
		prev.Aspect != next.Aspect ||
		prev.Watermark != next.Watermark {
		return true
	}
	return math.Abs(prev.BlurRadius-next.BlurRadius) >= th.BlurRadius ||
		absInt(prev.ShadowOpacity-next.ShadowOpacity) >= th.ShadowOpacity ||
		absInt(prev.ShadowIntensity-next.ShadowIntensity) >= th.ShadowIntensity ||
		absInt(prev.Brightness-next.Brightness) >= th.Tone ||
		absInt(prev.Contrast-next.Contrast) >= th.Tone ||
		absInt(prev.Padding-next.Padding) >= th.Padding
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Ptr is a convenience for building patches: params.Patch{Blur: params.Ptr(true)}.
func Ptr[T any](v T) *T {
	return &v
}
