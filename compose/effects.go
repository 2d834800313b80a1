package compose

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/transform"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/chaos-io/cutout/params"
)

const (
	checkerCell       = 8
	reflectionHeight  = 0.3
	reflectionOpacity = 0.2
	shadowSpread      = 3
	watermarkAlpha    = 150
)

var (
	checkerLight = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	checkerDark  = color.RGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff}
)

// background renders the background layer over the whole canvas, or nil when
// the background is transparent.
func background(p params.Params, asset image.Image, canvas image.Rectangle) *image.RGBA {
	switch {
	case p.Background == params.BackgroundImage && asset != nil && !asset.Bounds().Empty():
		out := image.NewRGBA(canvas)
		draw.CatmullRom.Scale(out, coverRect(canvas, asset.Bounds()), asset, asset.Bounds(), draw.Src, nil)
		return out
	case p.Background == params.BackgroundColor:
		out := image.NewRGBA(canvas)
		draw.Draw(out, canvas, image.NewUniform(p.BackgroundColor), image.Point{}, draw.Src)
		return out
	default:
		return nil
	}
}

// coverRect scales src to cover canvas, centred; the result may overhang.
func coverRect(canvas, src image.Rectangle) image.Rectangle {
	s := math.Max(float64(canvas.Dx())/float64(src.Dx()), float64(canvas.Dy())/float64(src.Dy()))
	w := int(math.Ceil(float64(src.Dx()) * s))
	h := int(math.Ceil(float64(src.Dy()) * s))
	x0 := canvas.Min.X + (canvas.Dx()-w)/2
	y0 := canvas.Min.Y + (canvas.Dy()-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

func drawCheckerboard(dst *image.RGBA) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := checkerLight
			if ((x/checkerCell)+(y/checkerCell))%2 == 1 {
				c = checkerDark
			}
			dst.SetRGBA(x, y, c)
		}
	}
}

// tone applies brightness then contrast (percent, 100 = unity) to colour only.
// bild works on premultiplied pixels, so the filters run on an opaque copy and
// the original alpha is put back afterwards.
func tone(src *image.NRGBA, brightness, contrast int) *image.NRGBA {
	if brightness == params.NeutralTone && contrast == params.NeutralTone {
		return src
	}

	opaque := image.NewNRGBA(src.Rect)
	copy(opaque.Pix, src.Pix)
	for i := 3; i < len(opaque.Pix); i += 4 {
		opaque.Pix[i] = 0xff
	}

	var img image.Image = opaque
	if brightness != params.NeutralTone {
		img = adjust.Brightness(img, float64(brightness-params.NeutralTone)/100)
	}
	if contrast != params.NeutralTone {
		img = adjust.Contrast(img, float64(contrast-params.NeutralTone)/100)
	}
	filtered := img.(*image.RGBA)

	out := image.NewNRGBA(src.Rect)
	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i] = filtered.Pix[i]
		out.Pix[i+1] = filtered.Pix[i+1]
		out.Pix[i+2] = filtered.Pix[i+2]
		out.Pix[i+3] = src.Pix[i+3]
	}
	return out
}

func scaleTo(src image.Image, size image.Point) *image.RGBA {
	dst := image.NewRGBA(image.Rectangle{Max: size})
	if src.Bounds().Size() == size {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// drawReflection puts a flipped, squashed, faded copy of the subject directly
// below it.
func drawReflection(out *image.RGBA, subject *image.RGBA, dst image.Rectangle) {
	h := max(1, int(math.Round(float64(dst.Dy())*reflectionHeight)))
	flipped := transform.FlipV(subject)

	squashed := image.NewRGBA(image.Rect(0, 0, dst.Dx(), h))
	draw.ApproxBiLinear.Scale(squashed, squashed.Bounds(), flipped, flipped.Bounds(), draw.Src, nil)

	r := image.Rect(dst.Min.X, dst.Max.Y, dst.Max.X, dst.Max.Y+h)
	fade := image.NewUniform(color.Alpha{A: uint8(math.Round(255 * reflectionOpacity))})
	draw.DrawMask(out, r, squashed, image.Point{}, fade, image.Point{}, draw.Over)
}

// drawShadow draws a blurred black silhouette of the subject offset by
// intensity pixels, blurred by three times that.
func drawShadow(out *image.RGBA, subject *image.RGBA, dst image.Rectangle, opacity int, intensity float64) {
	radius := intensity * shadowSpread
	pad := int(math.Ceil(radius)) + 1
	size := subject.Bounds().Size()

	silhouette := image.NewRGBA(image.Rect(0, 0, size.X+2*pad, size.Y+2*pad))
	ink := image.NewUniform(color.RGBA{A: uint8(math.Round(255 * float64(opacity) / 100))})
	draw.DrawMask(silhouette, image.Rectangle{Min: image.Pt(pad, pad), Max: image.Pt(pad+size.X, pad+size.Y)},
		ink, image.Point{}, subject, image.Point{}, draw.Src)

	var shadow image.Image = silhouette
	if radius > 0 {
		shadow = blur.Gaussian(silhouette, radius)
	}

	off := int(math.Round(intensity))
	r := silhouette.Bounds().Add(dst.Min).Add(image.Pt(off-pad, off-pad))
	draw.Draw(out, r, shadow, image.Point{}, draw.Over)
}

// drawWatermark writes text bottom-centre in translucent white. The bitmap
// font is scaled in whole steps with the canvas so it stays legible.
func drawWatermark(out *image.RGBA, text string) {
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	tw := d.MeasureString(text).Ceil()
	th := face.Metrics().Height.Ceil()
	if tw == 0 || th == 0 {
		return
	}

	label := image.NewRGBA(image.Rect(0, 0, tw, th))
	d.Dst = label
	d.Src = image.NewUniform(color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: watermarkAlpha})
	d.Dot = fixed.P(0, face.Metrics().Ascent.Ceil())
	d.DrawString(text)

	b := out.Bounds()
	k := max(1, min(b.Dx(), b.Dy())/300)
	lw, lh := tw*k, th*k
	margin := lh / 2
	x0 := b.Min.X + (b.Dx()-lw)/2
	y0 := b.Max.Y - lh - margin
	draw.NearestNeighbor.Scale(out, image.Rect(x0, y0, x0+lw, y0+lh), label, label.Bounds(), draw.Over, nil)
}
