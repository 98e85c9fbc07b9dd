package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/deepfry/internal/domain"
	"github.com/dunamismax/deepfry/internal/preset"
)

func TestLocalProcessor_FileInFryFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	if err := os.WriteFile(inputPath, solidPNG(t, 3, 2, color.NRGBA{R: 10, G: 20, B: 30, A: 255}), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor, err := NewLocalProcessor(outputDir)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Recipe:     domain.Recipe{Mode: "xor", Red: 255, Green: 255, Blue: 255},
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	out := result.Output
	if out.Format != "png" {
		t.Fatalf("expected png output format, got %s", out.Format)
	}
	if out.Passes != 1 {
		t.Fatalf("expected 1 pass, got %d", out.Passes)
	}
	if out.Width != 3 || out.Height != 2 {
		t.Fatalf("expected 3x2 output, got %dx%d", out.Width, out.Height)
	}
	if want := filepath.Join(outputDir, "job-local-1", "fried.png"); out.Path != want {
		t.Fatalf("expected output at %s, got %s", want, out.Path)
	}

	assertFilePixel(t, out.Path, 2, 1, 245, 235, 225)
}

func TestProcessor_PresetPassesRunInOrder(t *testing.T) {
	tmp := t.TempDir()
	outputPath := filepath.Join(tmp, "fried.png")

	processor, err := NewProcessor(staticFetcher{data: solidPNG(t, 1, 1, color.NRGBA{A: 255})}, PathEmitter{Path: outputPath})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	p, err := preset.Parse([]byte(`
[[algorithms]]
algorithm = "BitChange"
change_mode = "or"
red = 1
green = 1
blue = 1

[[algorithms]]
algorithm = "BitChange"
change_mode = "and"
red = 254
green = 254
blue = 254
`), preset.FormatTOML)
	if err != nil {
		t.Fatalf("parse preset: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:  "job-preset",
		Recipe: domain.Recipe{Preset: &p},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(result.Algorithms) != 2 {
		t.Fatalf("expected 2 resolved passes, got %d", len(result.Algorithms))
	}

	assertFilePixel(t, outputPath, 0, 0, 0, 0, 0)
}

func TestProcessor_InvalidPresetWritesNothing(t *testing.T) {
	tmp := t.TempDir()
	outputPath := filepath.Join(tmp, "fried.png")
	fetcher := &countingFetcher{data: solidPNG(t, 1, 1, color.NRGBA{A: 255})}

	processor, err := NewProcessor(fetcher, PathEmitter{Path: outputPath})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	or, and, blur := "or", "and", "blur"
	p := preset.Preset{Algorithms: []preset.AlgorithmConfig{
		{Algorithm: preset.AlgorithmBitChange, ChangeMode: &or},
		{Algorithm: preset.AlgorithmBitChange, ChangeMode: &and},
		{Algorithm: preset.AlgorithmBitChange, ChangeMode: &blur},
	}}

	_, err = processor.Process(context.Background(), Request{
		JobID:  "job-bad-preset",
		Recipe: domain.Recipe{Preset: &p},
	})
	var unknown *preset.UnknownOperationError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownOperationError, got %v", err)
	}
	if !IsPermanent(err) {
		t.Fatalf("expected recipe failure to be permanent, got %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected source to stay unfetched, got %d fetches", fetcher.calls)
	}
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output file, stat err=%v", statErr)
	}
}

func TestProcessor_ConfigurationConflict(t *testing.T) {
	processor, err := NewProcessor(staticFetcher{}, discardEmitter{})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{JobID: "job-empty"})
	if !errors.Is(err, domain.ErrConfigurationConflict) {
		t.Fatalf("expected ErrConfigurationConflict, got %v", err)
	}
}

func TestProcessor_UndecodableSourceIsPermanent(t *testing.T) {
	processor, err := NewProcessor(staticFetcher{data: []byte("not an image")}, discardEmitter{})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{JobID: "job-garbage", Recipe: domain.Recipe{Mode: "not"}})
	if !errors.Is(err, ErrUndecodableSource) || !IsPermanent(err) {
		t.Fatalf("expected permanent decode failure, got %v", err)
	}
	if IsPermanent(context.Canceled) {
		t.Fatal("context cancellation must stay retryable")
	}
}

func TestProcessor_FormatOverride(t *testing.T) {
	emitter := &captureEmitter{}
	processor, err := NewProcessor(staticFetcher{data: solidPNG(t, 4, 4, color.NRGBA{R: 200, A: 255})}, emitter)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	for _, format := range []string{"jpg", "bmp", "TIFF"} {
		if _, err := processor.Process(context.Background(), Request{
			JobID:   "job-format",
			Recipe:  domain.Recipe{Mode: "not"},
			Format:  format,
			Quality: 70,
		}); err != nil {
			t.Fatalf("process %s: %v", format, err)
		}
		if _, _, err := image.Decode(bytes.NewReader(emitter.data)); err != nil {
			t.Fatalf("decode %s output: %v", format, err)
		}
	}
	if emitter.format != "tiff" {
		t.Fatalf("expected last format tiff, got %s", emitter.format)
	}
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir())
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job/source",
		Recipe:     domain.Recipe{Mode: "not"},
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source_type error, got %v", err)
	}
}

func TestFormatForPath(t *testing.T) {
	cases := map[string]string{
		"out.JPG":     "jpeg",
		"out.tif":     "tiff",
		"dir.v2/out":  "",
		"noextension": "",
		"out.webp":    "webp",
	}
	for path, want := range cases {
		got, err := FormatForPath(path)
		if err != nil {
			t.Fatalf("FormatForPath(%q): unexpected error %v", path, err)
		}
		if got != want {
			t.Fatalf("FormatForPath(%q): expected %q, got %q", path, want, got)
		}
	}

	for _, path := range []string{"out.xyz", "out.gif", "archive.tar.gz"} {
		if _, err := FormatForPath(path); !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("FormatForPath(%q): expected ErrUnsupportedFormat, got %v", path, err)
		}
	}
}

func TestProcessor_UnknownFormatFailsBeforeFetch(t *testing.T) {
	tmp := t.TempDir()
	outputPath := filepath.Join(tmp, "fried.gif")
	fetcher := &countingFetcher{data: solidPNG(t, 1, 1, color.NRGBA{A: 255})}

	processor, err := NewProcessor(fetcher, PathEmitter{Path: outputPath})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:  "job-gif",
		Recipe: domain.Recipe{Mode: "not"},
		Format: "gif",
	})
	if !errors.Is(err, ErrUnsupportedFormat) || !IsPermanent(err) {
		t.Fatalf("expected permanent ErrUnsupportedFormat, got %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected source to stay unfetched, got %d fetches", fetcher.calls)
	}
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output file, stat err=%v", statErr)
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type countingFetcher struct {
	data  []byte
	calls int
}

func (f *countingFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	f.calls++
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, data []byte, format string, width, height int) (Output, error) {
	return Output{
		Format:  normalizeOutputFormat(format),
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

type captureEmitter struct {
	data   []byte
	format string
}

func (e *captureEmitter) Emit(_ context.Context, _ Request, data []byte, format string, width, height int) (Output, error) {
	e.data = data
	e.format = format
	return Output{Format: format, Bytes: len(data), Width: width, Height: height, Success: true}, nil
}

func solidPNG(t testing.TB, w, h int, c color.NRGBA) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func assertFilePixel(t *testing.T, path string, x, y int, r, g, b uint8) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}

	got := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	if got.R != r || got.G != g || got.B != b {
		t.Fatalf("pixel (%d,%d): expected (%d,%d,%d), got (%d,%d,%d)", x, y, r, g, b, got.R, got.G, got.B)
	}
}
