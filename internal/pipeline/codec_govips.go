//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/deepfry/internal/deepfry"
)

// govipsCodec lets libvips handle container formats. Pixels still pass
// through a PNG round trip so the passes always see plain 8-bit RGB.
type govipsCodec struct {
	fallback stdlibCodec
}

func (c govipsCodec) Decode(ctx context.Context, input []byte) (*deepfry.Image, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	ref, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, "", fmt.Errorf("decode source image: %w", err)
	}
	defer ref.Close()

	data, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("normalize source image: %w", err)
	}
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode normalized image: %w", err)
	}

	return deepfry.FromImage(src), sourceFormat(input), nil
}

func (c govipsCodec) Encode(ctx context.Context, img *deepfry.Image, format string, quality int) ([]byte, error) {
	switch format {
	case "bmp", "tiff":
		return c.fallback.Encode(ctx, img, format, quality)
	}

	raw, err := c.fallback.Encode(ctx, img, "png", 0)
	if err != nil {
		return nil, err
	}
	if format == "png" {
		return raw, nil
	}

	ref, err := vips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, fmt.Errorf("load fried image: %w", err)
	}
	defer ref.Close()

	return exportGovipsImage(ref, format, quality)
}

func sourceFormat(input []byte) string {
	switch vips.DetermineImageType(input) {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypeWEBP:
		return "webp"
	case vips.ImageTypeTIFF:
		return "tiff"
	default:
		return "png"
	}
}

func exportGovipsImage(img *vips.ImageRef, format string, quality int) ([]byte, error) {
	switch format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = jpegQuality(quality)
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case "webp":
		params := vips.NewWebpExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
