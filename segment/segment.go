// Package segment turns an uploaded photo into a subject raster whose alpha
// channel encodes the cutout.
package segment

import (
	"context"
	"errors"
	"image"
)

var ErrNoSubject = errors.New("no foreground detected")

// Remover removes the background of an encoded image. progress receives
// fractions in [0, 1] and may be nil.
type Remover interface {
	Remove(ctx context.Context, data []byte, progress func(float64)) (image.Image, error)
}

// RemoverFunc adapts a plain function to Remover.
type RemoverFunc func(ctx context.Context, data []byte, progress func(float64)) (image.Image, error)

func (f RemoverFunc) Remove(ctx context.Context, data []byte, progress func(float64)) (image.Image, error) {
	return f(ctx, data, progress)
}

func report(progress func(float64), v float64) {
	if progress != nil {
		progress(v)
	}
}
