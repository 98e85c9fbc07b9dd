package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/deepfry/internal/deepfry"
	"github.com/dunamismax/deepfry/internal/domain"
	"github.com/dunamismax/deepfry/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	// ErrInvalidRecipe and ErrUndecodableSource mark failures that no retry can fix.
	ErrInvalidRecipe     = errors.New("invalid recipe")
	ErrUndecodableSource = errors.New("undecodable source")
)

// IsPermanent reports whether err came from the job itself rather than from
// I/O, so a redelivery would fail the same way.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidRecipe) ||
		errors.Is(err, ErrUndecodableSource) ||
		errors.Is(err, ErrUnsupportedSourceType) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, storage.ErrObjectTooLarge)
}

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Recipe     domain.Recipe
	Format     string
	Quality    int
}

type Output struct {
	Format  string `json:"format"`
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Passes  int    `json:"passes"`
	Success bool   `json:"success"`
}

type Result struct {
	Output      Output
	SourceBytes int
	Algorithms  []deepfry.Algorithm
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, data []byte, format string, width, height int) (Output, error)
}

type Processor struct {
	fetcher Fetcher
	codec   Codec
	emitter Emitter
	tracer  trace.Tracer
}

func NewProcessor(fetcher Fetcher, emitter Emitter) (*Processor, error) {
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}

	codec, err := newCodec()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}

	return &Processor{
		fetcher: fetcher,
		codec:   codec,
		emitter: emitter,
		tracer:  otel.Tracer("deepfry/pipeline"),
	}, nil
}

func NewLocalProcessor(outputDir string) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir})
}

func NewObjectStoreProcessor(fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter) (*Processor, error) {
	return NewProcessor(fetcher, emitter)
}

// Process resolves every pass before touching the source, then runs them in
// order on one buffer. Nothing is emitted unless every stage succeeds.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}

	algos, err := req.Recipe.Algorithms()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	if _, err := parseOutputFormat(req.Format); err != nil {
		return Result{}, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	span.SetAttributes(
		attribute.String("job.id", req.JobID),
		attribute.Int("job.passes", len(algos)),
	)
	defer span.End()

	out, err := p.process(ctx, req, algos)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		return Result{}, err
	}
	return out, nil
}

func (p *Processor) process(ctx context.Context, req Request, algos []deepfry.Algorithm) (Result, error) {
	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	img, sourceFormat, err := p.codec.Decode(ctx, sourceBytes)
	if err != nil {
		return Result{}, fmt.Errorf("decode stage: %w: %w", ErrUndecodableSource, err)
	}

	if err := deepfry.ApplyAll(ctx, img, algos, p.tracePass); err != nil {
		return Result{}, err
	}

	format, err := outputFormat(req.Format, sourceFormat)
	if err != nil {
		return Result{}, fmt.Errorf("encode stage: %w", err)
	}
	encoded, err := p.codec.Encode(ctx, img, format, req.Quality)
	if err != nil {
		return Result{}, fmt.Errorf("encode stage: %w", err)
	}

	written, err := p.emitter.Emit(ctx, req, encoded, format, img.Width, img.Height)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}
	written.Passes = len(algos)

	return Result{
		Output:      written,
		SourceBytes: len(sourceBytes),
		Algorithms:  algos,
	}, nil
}

func (p *Processor) tracePass(ctx context.Context, pass int, algo deepfry.Algorithm) (context.Context, func(error)) {
	ctx, span := p.tracer.Start(ctx, "pipeline.pass")
	span.SetAttributes(
		attribute.Int("pass.index", pass),
		attribute.String("pass.algorithm", algo.String()),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pass failed")
		}
		span.End()
	}
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

// LocalFileEmitter writes <OutputDir>/<job id>/fried.<format>.
type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, data []byte, format string, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, "fried."+normalizeOutputFormat(format))
	return writeOutput(fullPath, data, format, width, height)
}

// PathEmitter writes to one exact path, as the CLI does.
type PathEmitter struct {
	Path string
}

func (e PathEmitter) Emit(_ context.Context, _ Request, data []byte, format string, width, height int) (Output, error) {
	if strings.TrimSpace(e.Path) == "" {
		return Output{}, errors.New("output path is required")
	}
	if dir := filepath.Dir(e.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Output{}, fmt.Errorf("create output dir: %w", err)
		}
	}
	return writeOutput(e.Path, data, format, width, height)
}

func writeOutput(path string, data []byte, format string, width, height int) (Output, error) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		Format:  normalizeOutputFormat(format),
		Path:    path,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
