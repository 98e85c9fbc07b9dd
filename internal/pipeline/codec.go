package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dunamismax/deepfry/internal/deepfry"
)

var ErrUnsupportedFormat = errors.New("unsupported output format")

// Codec turns encoded bytes into an RGB buffer and back.
type Codec interface {
	Decode(ctx context.Context, input []byte) (img *deepfry.Image, format string, err error)
	Encode(ctx context.Context, img *deepfry.Image, format string, quality int) ([]byte, error)
}

const defaultJPEGQuality = 90

var outputFormats = map[string]string{
	"png":  "png",
	"jpeg": "jpeg",
	"jpg":  "jpeg",
	"bmp":  "bmp",
	"tiff": "tiff",
	"tif":  "tiff",
	"webp": "webp",
}

// parseOutputFormat canonicalises a requested format. Empty stays empty.
func parseOutputFormat(format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return "", nil
	}
	canonical, ok := outputFormats[format]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return canonical, nil
}

// normalizeOutputFormat is for formats that already passed parseOutputFormat
// or came from a decoder; anything unknown encodes as png.
func normalizeOutputFormat(format string) string {
	if canonical, ok := outputFormats[format]; ok {
		return canonical
	}
	return "png"
}

// FormatForPath maps an output file extension to an encoder format. A path
// without an extension yields "", an unknown extension an error.
func FormatForPath(path string) (string, error) {
	return parseOutputFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

func outputFormat(requested, source string) (string, error) {
	format, err := parseOutputFormat(requested)
	if err != nil || format != "" {
		return format, err
	}
	return normalizeOutputFormat(strings.ToLower(source)), nil
}

func jpegQuality(quality int) int {
	if quality <= 0 || quality > 100 {
		return defaultJPEGQuality
	}
	return quality
}
