package deepfry

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNilImage   = errors.New("image buffer is required")
	ErrBufferSize = errors.New("pixel buffer does not match image dimensions")
)

// Apply runs one pass over every pixel of img in place. Rows are split into
// disjoint bands that run concurrently; the call returns once the whole
// image has been rewritten. The only possible failures are a nil image, a
// buffer whose length disagrees with its dimensions, an out-of-range
// operation, or ctx being done.
func Apply(ctx context.Context, img *Image, algo Algorithm) error {
	if img == nil {
		return ErrNilImage
	}
	if !algo.Operation.Valid() {
		return fmt.Errorf("invalid operation %d", uint8(algo.Operation))
	}
	if img.Width < 0 || img.Height < 0 || len(img.Pix) != 3*img.Width*img.Height {
		return fmt.Errorf("%w: %dx%d with %d bytes", ErrBufferSize, img.Width, img.Height, len(img.Pix))
	}
	if img.Width == 0 || img.Height == 0 {
		return ctx.Err()
	}

	tables := algo.tables()
	bands := min(runtime.GOMAXPROCS(0), img.Height)
	rowsPerBand := (img.Height + bands - 1) / bands

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bands)
	for start := 0; start < img.Height; start += rowsPerBand {
		end := min(start+rowsPerBand, img.Height)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			applyRows(img, &tables, start, end)
			return nil
		})
	}
	return g.Wait()
}

func applyRows(img *Image, tables *[3][256]uint8, start, end int) {
	red, green, blue := &tables[0], &tables[1], &tables[2]
	pix := img.Pix[3*start*img.Width : 3*end*img.Width]
	for i := 0; i+2 < len(pix); i += 3 {
		pix[i] = red[pix[i]]
		pix[i+1] = green[pix[i+1]]
		pix[i+2] = blue[pix[i+2]]
	}
}

// PassHook wraps one pass of ApplyAll. pass is 1-based. The returned context
// is used for the pass and done receives its result.
type PassHook func(ctx context.Context, pass int, algo Algorithm) (passCtx context.Context, done func(error))

// ApplyAll runs the passes in order; pass n+1 reads the output of pass n.
// Hooks are called around every pass in the order given.
func ApplyAll(ctx context.Context, img *Image, algos []Algorithm, hooks ...PassHook) error {
	for i, algo := range algos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := applyPass(ctx, img, i+1, algo, hooks); err != nil {
			return fmt.Errorf("pass %d %s: %w", i+1, algo, err)
		}
	}
	return nil
}

func applyPass(ctx context.Context, img *Image, pass int, algo Algorithm, hooks []PassHook) (err error) {
	for _, hook := range hooks {
		var done func(error)
		ctx, done = hook(ctx, pass, algo)
		defer func() { done(err) }()
	}
	return Apply(ctx, img, algo)
}
