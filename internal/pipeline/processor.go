package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/storyframe/internal/domain"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	// ErrSourceNotFound means an input was never uploaded or has been removed.
	ErrSourceNotFound = errors.New("source not found")
)

type Request struct {
	JobID      string
	SourceType string
	SourceKeys []string
	Layout     domain.Layout
	Mode       domain.LayoutMode
}

type Output struct {
	Layout  domain.Layout
	Mode    domain.LayoutMode
	Format  string
	Path    string
	Bytes   int
	Width   int
	Height  int
	Success bool
}

type Result struct {
	Output       Output
	SourceBytes  int
	SourcePixels int64
}

type Fetcher interface {
	Fetch(ctx context.Context, sourceType, key string) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, rendered Rendered) (Output, error)
}

type Processor struct {
	fetcher  Fetcher
	renderer *Renderer
	emitter  Emitter
}

func NewProcessor(renderer *Renderer, fetcher Fetcher, emitter Emitter) (*Processor, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}
	return &Processor{
		fetcher:  fetcher,
		renderer: renderer,
		emitter:  emitter,
	}, nil
}

func NewLocalProcessor(renderer *Renderer, outputDir string) (*Processor, error) {
	return NewProcessor(renderer, LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir})
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if want := req.Layout.SourceCount(); len(req.SourceKeys) != want {
		return Result{}, fmt.Errorf("layout %q requires %d source key(s), got %d", req.Layout, want, len(req.SourceKeys))
	}

	sources := make([][]byte, 0, len(req.SourceKeys))
	sourceBytes := 0
	for i, key := range req.SourceKeys {
		data, err := p.fetcher.Fetch(ctx, req.SourceType, key)
		if err != nil {
			return Result{}, &RenderError{Input: inputName(req.Layout, i), Stage: StageFetch, Err: err}
		}
		sources = append(sources, data)
		sourceBytes += len(data)
	}

	var (
		rendered Rendered
		err      error
	)
	switch req.Layout {
	case domain.LayoutPaired:
		rendered, err = p.renderer.RenderPairedBytes(ctx, sources[0], sources[1], req.Mode)
	default:
		rendered, err = p.renderer.RenderSoloBytes(ctx, sources[0], req.Mode)
	}
	if err != nil {
		return Result{}, fmt.Errorf("render stage layout=%s mode=%s: %w", req.Layout, req.Mode, err)
	}

	written, err := p.emitter.Emit(ctx, req, rendered)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage layout=%s: %w", req.Layout, err)
	}

	return Result{
		Output:       written,
		SourceBytes:  sourceBytes,
		SourcePixels: rendered.SourcePixels,
	}, nil
}

// OutputName is the delivered file name for a layout.
func OutputName(layout domain.Layout, format string) string {
	base := "story"
	if layout == domain.LayoutPaired {
		base = "story_layout"
	}
	return base + "." + extensionForFormat(format)
}

func inputName(layout domain.Layout, index int) string {
	if layout != domain.LayoutPaired {
		return ""
	}
	if index == 0 {
		return InputFirst
	}
	return InputSecond
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, sourceType, key string) ([]byte, error) {
	if !strings.EqualFold(sourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, sourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", key, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, rendered Rendered) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, OutputName(req.Layout, rendered.Format))
	if err := os.WriteFile(fullPath, rendered.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return outputFor(req, rendered, fullPath), nil
}

func outputFor(req Request, rendered Rendered, path string) Output {
	return Output{
		Layout:  req.Layout,
		Mode:    req.Mode,
		Format:  rendered.Format,
		Path:    path,
		Bytes:   len(rendered.Data),
		Width:   rendered.Width,
		Height:  rendered.Height,
		Success: true,
	}
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
