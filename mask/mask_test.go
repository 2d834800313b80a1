package mask

import (
	"bytes"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.NRGBA{R: 220, G: 30, B: 30, A: 255}
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func countAlpha(m *Mask, a uint8, area image.Rectangle) int {
	n := 0
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			if m.Alpha(x, y) == a {
				n++
			}
		}
	}
	return n
}

func TestFromImageKeepsColourUnderZeroAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	src.SetNRGBA(5, 5, color.NRGBA{R: 1, G: 2, B: 3, A: 0})
	src.SetNRGBA(6, 5, red)

	m := FromImage(src)
	assert.Equal(t, image.Rect(0, 0, 2, 1), m.Bounds())
	assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 0}, m.Image().NRGBAAt(0, 0))
	assert.Equal(t, red, m.Image().NRGBAAt(1, 0))
}

func TestInitialize(t *testing.T) {
	subject := solid(10, 10, red)

	assert.Nil(t, Initialize(nil, nil))

	m := Initialize(subject, nil)
	require.NotNil(t, m)
	assert.Equal(t, uint8(255), m.Alpha(3, 3))

	restored := New(10, 10)
	got := Initialize(subject, restored)
	assert.True(t, got.Equal(restored))
	assert.NotSame(t, restored, got)

	wrongSize := New(4, 4)
	got = Initialize(subject, wrongSize)
	assert.Equal(t, uint8(255), got.Alpha(3, 3))
}

func TestErase(t *testing.T) {
	t.Run("disc", func(t *testing.T) {
		m := FromImage(solid(100, 100, red))
		m.Erase(Stroke{Points: []Point{{X: 50, Y: 50}}, Radius: 10})

		assert.Equal(t, uint8(0), m.Alpha(50, 50))
		assert.Equal(t, uint8(0), m.Alpha(55, 50))
		assert.Equal(t, uint8(255), m.Alpha(62, 50))
		assert.Equal(t, uint8(255), m.Alpha(0, 0))
	})

	t.Run("segment between points is covered", func(t *testing.T) {
		m := FromImage(solid(100, 100, red))
		m.Erase(Stroke{Points: []Point{{X: 10, Y: 50}, {X: 90, Y: 50}}, Radius: 3})

		for x := 10; x < 90; x++ {
			assert.Equal(t, uint8(0), m.Alpha(x, 50), "x=%d", x)
		}
		assert.Equal(t, uint8(255), m.Alpha(50, 60))
	})

	t.Run("out of bounds and empty strokes", func(t *testing.T) {
		m := FromImage(solid(20, 20, red))
		v := m.Version()
		m.Erase(Stroke{Points: []Point{{X: -100, Y: -100}}, Radius: 5})
		m.Erase(Stroke{Radius: 5})
		m.Erase(Stroke{Points: []Point{{X: 5, Y: 5}}})
		assert.Equal(t, v, m.Version())
		assert.Equal(t, 400, countAlpha(m, 255, m.Bounds()))
	})

	t.Run("nil mask", func(t *testing.T) {
		var m *Mask
		assert.NotPanics(t, func() { m.Erase(Stroke{Points: []Point{{}}, Radius: 1}) })
	})
}

func TestRestoreMagicBrush(t *testing.T) {
	original := solid(60, 60, white)
	stroke := Stroke{Points: []Point{{X: 30, Y: 30}}, Radius: 8}
	area := image.Rect(24, 24, 36, 36)

	erased := func() *Mask {
		m := FromImage(solid(60, 60, red))
		m.Erase(Stroke{Points: []Point{{X: 30, Y: 30}}, Radius: 20})
		return m
	}

	t.Run("enabled keeps background coloured pixels hidden", func(t *testing.T) {
		m := erased()
		m.Restore(stroke, original, RestoreOptions{MagicBrush: true, Sample: &white})
		assert.Equal(t, area.Dx()*area.Dy(), countAlpha(m, 0, area))
	})

	t.Run("disabled restores every pixel", func(t *testing.T) {
		m := erased()
		m.Restore(stroke, original, RestoreOptions{MagicBrush: false, Sample: &white})
		assert.Equal(t, uint8(255), m.Alpha(30, 30))
		assert.Equal(t, white, m.Image().NRGBAAt(30, 30))

		m2 := erased()
		m2.Restore(stroke, original, RestoreOptions{})
		assert.True(t, m.Equal(m2))
	})

	t.Run("enabled clears opaque background coloured pixels", func(t *testing.T) {
		m := FromImage(solid(60, 60, red))
		m.Restore(stroke, original, RestoreOptions{MagicBrush: true, Sample: &white})
		assert.Equal(t, area.Dx()*area.Dy(), countAlpha(m, 0, area))
		assert.Equal(t, uint8(255), m.Alpha(2, 2), "outside the stroke is untouched")
	})

	t.Run("enabled restores colours far from the sample", func(t *testing.T) {
		m := erased()
		m.Restore(stroke, solid(60, 60, red), RestoreOptions{MagicBrush: true, Sample: &white})
		assert.Equal(t, uint8(255), m.Alpha(30, 30))
	})

	t.Run("missing original is a no-op", func(t *testing.T) {
		m := erased()
		before := m.Clone()
		m.Restore(stroke, nil, RestoreOptions{})
		assert.True(t, m.Equal(before))
	})
}

func TestAutoRestoreAll(t *testing.T) {
	t.Run("solid white original becomes fully transparent", func(t *testing.T) {
		m := FromImage(solid(100, 100, red))
		m.AutoRestoreAll(solid(100, 100, white), white, 55)
		assert.Equal(t, 100*100, countAlpha(m, 0, m.Bounds()))
	})

	t.Run("subject colours become opaque", func(t *testing.T) {
		original := solid(40, 40, white)
		for y := 10; y < 30; y++ {
			for x := 10; x < 30; x++ {
				original.SetNRGBA(x, y, red)
			}
		}
		m := New(40, 40)
		m.AutoRestoreAll(original, white, 0)

		assert.Equal(t, 400, countAlpha(m, 255, image.Rect(10, 10, 30, 30)))
		assert.Equal(t, 1600-400, countAlpha(m, 0, m.Bounds()))
		assert.Equal(t, red, m.Image().NRGBAAt(15, 15))
	})
}

func TestAlphaStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	original := solid(64, 64, red)
	m := FromImage(solid(64, 64, white))

	for i := 0; i < 200; i++ {
		s := Stroke{
			Points: []Point{{X: rng.Float64() * 64, Y: rng.Float64() * 64}, {X: rng.Float64() * 64, Y: rng.Float64() * 64}},
			Radius: 1 + rng.Float64()*10,
		}
		switch rng.Intn(3) {
		case 0:
			m.Erase(s)
		case 1:
			m.Restore(s, original, RestoreOptions{MagicBrush: rng.Intn(2) == 0, Sample: &white})
		default:
			m.AutoRestoreAll(original, white, 55)
		}
	}

	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			a := m.Alpha(x, y)
			assert.True(t, a == 0 || a == 255 || (a > 0 && a < 255))
		}
	}
	assert.Equal(t, 64*64*4, len(m.Image().Pix))
}

func TestEncodeDecode(t *testing.T) {
	m := FromImage(solid(8, 8, red))
	m.Erase(Stroke{Points: []Point{{X: 4, Y: 4}}, Radius: 2})

	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.True(t, m.Equal(got))

	_, err = Decode(bytes.NewReader([]byte("not a png")))
	assert.Error(t, err)
}

func TestDetectBackground(t *testing.T) {
	original := solid(20, 20, color.NRGBA{R: 0, G: 200, B: 0, A: 255})
	subject := solid(20, 20, red)
	for y := 0; y < 20; y++ {
		for x := 0; x < 10; x++ {
			subject.SetNRGBA(x, y, color.NRGBA{})
		}
	}

	c, ok := DetectBackground(original, subject)
	require.True(t, ok)
	assert.Equal(t, color.NRGBA{G: 200, A: 255}, c)

	_, ok = DetectBackground(original, solid(20, 20, red))
	assert.False(t, ok)
}

func TestVersionBumpsOnChange(t *testing.T) {
	m := FromImage(solid(10, 10, red))
	v := m.Version()
	m.Erase(Stroke{Points: []Point{{X: 5, Y: 5}}, Radius: 2})
	assert.Greater(t, m.Version(), v)

	clone := m.Clone()
	assert.True(t, clone.Equal(m))
	clone.Erase(Stroke{Points: []Point{{X: 1, Y: 1}}, Radius: 1})
	assert.False(t, clone.Equal(m))
}
