// Package mask owns the editable subject layer of one batch item: a row-major
// NRGBA buffer whose alpha channel decides which part of the subject is
// visible. Colour is kept next to alpha because restoring a pixel pulls its
// colour from the original photo.
package mask

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

// DefaultThreshold is the Euclidean RGB distance under which a colour counts as
// background for the magic brush and auto restore.
const DefaultThreshold = 55.0

type Mask struct {
	img     *image.NRGBA
	version uint64
}

func New(w, h int) *Mask {
	return &Mask{img: image.NewNRGBA(image.Rect(0, 0, w, h))}
}

// FromImage copies src into a new mask with its origin at (0, 0).
func FromImage(src image.Image) *Mask {
	b := src.Bounds()
	m := New(b.Dx(), b.Dy())
	if n, ok := src.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			from := n.PixOffset(b.Min.X, b.Min.Y+y)
			copy(m.img.Pix[y*m.img.Stride:y*m.img.Stride+b.Dx()*4], n.Pix[from:from+b.Dx()*4])
		}
		return m
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			m.img.SetNRGBA(x, y, c)
		}
	}
	return m
}

// Initialize builds the mask for a subject: the restored mask when one is
// given with matching dimensions, otherwise a copy of the subject. A nil
// subject yields nil.
func Initialize(subject image.Image, restored *Mask) *Mask {
	if subject == nil {
		return nil
	}
	b := subject.Bounds()
	if restored != nil && restored.Width() == b.Dx() && restored.Height() == b.Dy() {
		return restored.Clone()
	}
	return FromImage(subject)
}

func (m *Mask) Width() int  { return m.img.Rect.Dx() }
func (m *Mask) Height() int { return m.img.Rect.Dy() }

func (m *Mask) Bounds() image.Rectangle { return m.img.Rect }

// Version changes on every mutation; render caches key on it.
func (m *Mask) Version() uint64 { return m.version }

// Image exposes the backing buffer for read-only use by the compositor.
// Callers must not write to it.
func (m *Mask) Image() *image.NRGBA { return m.img }

func (m *Mask) Alpha(x, y int) uint8 {
	if !(image.Point{X: x, Y: y}).In(m.img.Rect) {
		return 0
	}
	return m.img.Pix[m.img.PixOffset(x, y)+3]
}

func (m *Mask) Clone() *Mask {
	img := image.NewNRGBA(m.img.Rect)
	copy(img.Pix, m.img.Pix)
	return &Mask{img: img}
}

// Equal compares dimensions and every byte, colour included.
func (m *Mask) Equal(o *Mask) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.img.Rect != o.img.Rect {
		return false
	}
	for i := range m.img.Pix {
		if m.img.Pix[i] != o.img.Pix[i] {
			return false
		}
	}
	return true
}

// Encode writes the mask as PNG, which keeps colour under zero alpha.
func (m *Mask) Encode(w io.Writer) error {
	if err := png.Encode(w, m.img); err != nil {
		return fmt.Errorf("encode mask: %w", err)
	}
	return nil
}

func Decode(r io.Reader) (*Mask, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	return FromImage(img), nil
}

func (m *Mask) touch() {
	m.version++
}
