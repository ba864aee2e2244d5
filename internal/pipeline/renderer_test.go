package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/storyframe/internal/compose"
	"github.com/dunamismax/storyframe/internal/domain"
)

func smallRenderer(t *testing.T) *Renderer {
	t.Helper()

	settings := DefaultSettings()
	settings.Canvas = domain.Dimensions{Width: 90, Height: 160}
	r, err := NewRenderer(settings)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return r
}

func TestNewRendererRejectsBadCanvas(t *testing.T) {
	settings := DefaultSettings()
	settings.Canvas = domain.Dimensions{Width: 2160, Height: 3841}
	if _, err := NewRenderer(settings); !errors.Is(err, ErrInvalidTargetDimensions) {
		t.Fatalf("expected ErrInvalidTargetDimensions for odd height, got %v", err)
	}

	settings.Canvas = domain.Dimensions{Width: 0, Height: 3840}
	if _, err := NewRenderer(settings); !errors.Is(err, ErrInvalidTargetDimensions) {
		t.Fatalf("expected ErrInvalidTargetDimensions for zero width, got %v", err)
	}
}

func TestNewRendererScalesBlur(t *testing.T) {
	settings := DefaultSettings()
	settings.Canvas = domain.Dimensions{Width: 1080, Height: 1920}
	r, err := NewRenderer(settings)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	if r.opts.BlurSigma != 25 {
		t.Fatalf("expected blur sigma 25 for a half-size canvas, got %v", r.opts.BlurSigma)
	}
}

func TestRenderSoloMatchesCanvas(t *testing.T) {
	r := smallRenderer(t)
	for _, mode := range []domain.LayoutMode{domain.ModeFill, domain.ModeFitBlurred} {
		out, err := r.RenderSolo(context.Background(), gradientNRGBA(300, 120), mode)
		if err != nil {
			t.Fatalf("render solo %s: %v", mode, err)
		}
		if b := out.Bounds(); b.Dx() != 90 || b.Dy() != 160 {
			t.Fatalf("render solo %s: expected 90x160, got %v", mode, b)
		}
	}
}

func TestRenderPairedStacksIndependentHalves(t *testing.T) {
	r := smallRenderer(t)
	first := gradientNRGBA(300, 120)
	second := gradientNRGBA(50, 400)
	half := domain.Dimensions{Width: 90, Height: 80}

	for _, mode := range []domain.LayoutMode{domain.ModeFill, domain.ModeFitBlurred} {
		out, err := r.RenderPaired(context.Background(), first, second, mode)
		if err != nil {
			t.Fatalf("render paired %s: %v", mode, err)
		}
		if b := out.Bounds(); b.Dx() != 90 || b.Dy() != 160 {
			t.Fatalf("render paired %s: expected 90x160, got %v", mode, b)
		}

		top, err := compose.ComposeFrame(first, half, mode, r.opts)
		if err != nil {
			t.Fatalf("compose top: %v", err)
		}
		bottom, err := compose.ComposeFrame(second, half, mode, r.opts)
		if err != nil {
			t.Fatalf("compose bottom: %v", err)
		}

		split := out.Stride * half.Height
		if !bytes.Equal(out.Pix[:split], top.Pix) {
			t.Fatalf("render paired %s: top half differs from the first image's frame", mode)
		}
		if !bytes.Equal(out.Pix[split:], bottom.Pix) {
			t.Fatalf("render paired %s: bottom half differs from the second image's frame", mode)
		}
	}
}

func TestRenderPairedReportsFailingInput(t *testing.T) {
	r := smallRenderer(t)

	_, err := r.RenderPaired(context.Background(), gradientNRGBA(10, 10), image.NewAlpha(image.Rect(0, 0, 4, 4)), domain.ModeFill)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
	if renderErr.Input != InputSecond || renderErr.Stage != StageNormalize {
		t.Fatalf("expected second/normalize, got %s/%s", renderErr.Input, renderErr.Stage)
	}
	if !errors.Is(err, compose.ErrUnsupportedColorModel) {
		t.Fatalf("expected ErrUnsupportedColorModel in chain, got %v", err)
	}
}

func TestRenderSoloBytesProducesJPEG(t *testing.T) {
	r := smallRenderer(t)

	rendered, err := r.RenderSoloBytes(context.Background(), buildTestPNG(t, 240, 120), domain.ModeFitBlurred)
	if err != nil {
		t.Fatalf("render solo bytes: %v", err)
	}
	w, h, format := decodeSize(t, rendered.Data)
	if w != 90 || h != 160 || format != "jpeg" {
		t.Fatalf("expected 90x160 jpeg, got %dx%d %s", w, h, format)
	}
	if rendered.SourcePixels != 240*120 {
		t.Fatalf("expected source pixels %d, got %d", 240*120, rendered.SourcePixels)
	}
}

func TestRenderPairedBytesReportsDecodeFailure(t *testing.T) {
	r := smallRenderer(t)

	_, err := r.RenderPairedBytes(context.Background(), buildTestPNG(t, 20, 20), []byte("not an image"), domain.ModeFill)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
	if renderErr.Input != InputSecond || renderErr.Stage != StageDecode {
		t.Fatalf("expected second/decode, got %s/%s", renderErr.Input, renderErr.Stage)
	}
	if !IsPermanent(err) {
		t.Fatal("expected decode failures to be permanent")
	}
}

func TestRenderSoloBytesReportsEncodeFailure(t *testing.T) {
	settings := DefaultSettings()
	settings.Canvas = domain.Dimensions{Width: 90, Height: 160}
	r, err := newRendererWithCodec(settings, failingEncodeCodec{})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	_, err = r.RenderSoloBytes(context.Background(), buildTestPNG(t, 20, 20), domain.ModeFill)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) || renderErr.Stage != StageEncode {
		t.Fatalf("expected encode RenderError, got %v", err)
	}
	if IsPermanent(err) {
		t.Fatal("expected encode failures to be retryable")
	}
}

func TestRenderHonorsCanceledContext(t *testing.T) {
	r := smallRenderer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.RenderSoloBytes(ctx, buildTestPNG(t, 20, 20), domain.ModeFill); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRenderCanonicalLandscapeStory(t *testing.T) {
	if testing.Short() {
		t.Skip("full-resolution render")
	}

	r, err := NewRenderer(DefaultSettings())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	src := gradientNRGBA(4000, 2000)

	filled, err := r.RenderSolo(context.Background(), src, domain.ModeFill)
	if err != nil {
		t.Fatalf("render fill: %v", err)
	}
	wantFill := imaging.Resize(imaging.Crop(src, image.Rect(1437, 0, 2562, 2000)), 2160, 3840, imaging.Lanczos)
	if !bytes.Equal(filled.Pix, wantFill.Pix) {
		t.Fatal("expected fill output to be the centered full-height slice resized to 2160x3840")
	}

	fitted, err := r.RenderSolo(context.Background(), src, domain.ModeFitBlurred)
	if err != nil {
		t.Fatalf("render fit: %v", err)
	}
	if b := fitted.Bounds(); b.Dx() != 2160 || b.Dy() != 3840 {
		t.Fatalf("expected 2160x3840, got %v", b)
	}

	foreground := imaging.Resize(src, 2160, 1080, imaging.Lanczos)
	const top = (3840 - 1080) / 2
	for _, y := range []int{0, 540, 1079} {
		got := fitted.Pix[(top+y)*fitted.Stride : (top+y+1)*fitted.Stride]
		want := foreground.Pix[y*foreground.Stride : (y+1)*foreground.Stride]
		if !bytes.Equal(got, want) {
			t.Fatalf("foreground row %d is not the sharp aspect-preserved source", y)
		}
	}
}

type failingEncodeCodec struct {
	pureGoCodec
}

func (failingEncodeCodec) Encode(image.Image, int) ([]byte, error) {
	return nil, errors.New("encoder unavailable")
}
