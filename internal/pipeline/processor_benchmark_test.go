package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/dunamismax/storyframe/internal/domain"
)

func BenchmarkProcessorSoloFit(b *testing.B) {
	benchmarkProcessor(b, domain.LayoutSolo, domain.ModeFitBlurred)
}

func BenchmarkProcessorSoloFill(b *testing.B) {
	benchmarkProcessor(b, domain.LayoutSolo, domain.ModeFill)
}

func BenchmarkProcessorPairedFit(b *testing.B) {
	benchmarkProcessor(b, domain.LayoutPaired, domain.ModeFitBlurred)
}

func benchmarkProcessor(b *testing.B, layout domain.Layout, mode domain.LayoutMode) {
	source := buildTestPNG(b, 1920, 1080)
	renderer, err := NewRenderer(DefaultSettings())
	if err != nil {
		b.Fatalf("new renderer: %v", err)
	}
	processor, err := NewProcessor(renderer, staticFetcher{data: source}, discardEmitter{})
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	keys := []string{"first.png"}
	if layout == domain.LayoutPaired {
		keys = append(keys, "second.png")
	}
	req := Request{
		SourceType: SourceTypeLocalFile,
		SourceKeys: keys,
		Layout:     layout,
		Mode:       mode,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-%s-%s-%d", layout, mode, i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _, _ string) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, req Request, rendered Rendered) (Output, error) {
	return outputFor(req, rendered, ""), nil
}
