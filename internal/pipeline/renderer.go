package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/dunamismax/storyframe/internal/compose"
	"github.com/dunamismax/storyframe/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidTargetDimensions = errors.New("invalid target dimensions")

const (
	StageFetch     = "fetch"
	StageDecode    = "decode"
	StageNormalize = "normalize"
	StageCompose   = "compose"
	StageAssemble  = "assemble"
	StageEncode    = "encode"

	InputFirst  = "first"
	InputSecond = "second"
)

// RenderError names the input and stage that aborted a job. Input is empty
// for solo jobs and for stages that act on the whole canvas.
type RenderError struct {
	Input string
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s image %s stage: %v", e.Input, e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether retrying the job cannot change the outcome.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrUnsupportedSourceType) || errors.Is(err, ErrSourceNotFound) {
		return true
	}
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		return false
	}
	switch renderErr.Stage {
	case StageDecode, StageNormalize, StageCompose, StageAssemble:
		return true
	default:
		return false
	}
}

type Settings struct {
	Canvas      domain.Dimensions
	JPEGQuality int
	// BlurSigma is expressed for compose.CanonicalCanvas and scaled to Canvas.
	BlurSigma     float64
	BlurDownscale int
}

func DefaultSettings() Settings {
	return Settings{
		Canvas:        compose.CanonicalCanvas,
		JPEGQuality:   DefaultQuality,
		BlurSigma:     compose.DefaultBlurSigma,
		BlurDownscale: compose.DefaultBlurDownscale,
	}
}

type Renderer struct {
	canvas  domain.Dimensions
	quality int
	opts    compose.Options
	codec   Codec
	tracer  trace.Tracer
}

// Rendered is an encoded canvas ready for delivery.
type Rendered struct {
	Data         []byte
	Format       string
	Width        int
	Height       int
	SourcePixels int64
}

func NewRenderer(settings Settings) (*Renderer, error) {
	return newRendererWithCodec(settings, newCodec())
}

func newRendererWithCodec(settings Settings, codec Codec) (*Renderer, error) {
	canvas := settings.Canvas
	if !canvas.Valid() {
		return nil, fmt.Errorf("%w: canvas %s", ErrInvalidTargetDimensions, canvas)
	}
	if canvas.Height%2 != 0 {
		return nil, fmt.Errorf("%w: canvas height %d is not divisible by 2", ErrInvalidTargetDimensions, canvas.Height)
	}

	downscale := settings.BlurDownscale
	if downscale < 1 {
		downscale = compose.DefaultBlurDownscale
	}

	return &Renderer{
		canvas:  canvas,
		quality: normalizeQuality(settings.JPEGQuality),
		opts: compose.Options{
			BlurSigma:     compose.ScaledBlurSigma(settings.BlurSigma, canvas),
			BlurDownscale: downscale,
		},
		codec:  codec,
		tracer: otel.Tracer("storyframe/pipeline"),
	}, nil
}

func (r *Renderer) Canvas() domain.Dimensions {
	return r.canvas
}

// RenderSolo composes one image onto the full canvas.
func (r *Renderer) RenderSolo(ctx context.Context, img image.Image, mode domain.LayoutMode) (*image.NRGBA, error) {
	_, span := r.tracer.Start(ctx, "render.solo_frame")
	defer span.End()

	return r.frame(ctx, "", img, r.canvas, mode)
}

// RenderPaired composes first and second into the top and bottom halves of
// the canvas.
func (r *Renderer) RenderPaired(ctx context.Context, first, second image.Image, mode domain.LayoutMode) (*image.NRGBA, error) {
	_, span := r.tracer.Start(ctx, "render.paired_frames")
	defer span.End()

	half := r.canvas.Half()
	top, err := r.frame(ctx, InputFirst, first, half, mode)
	if err != nil {
		return nil, err
	}
	bottom, err := r.frame(ctx, InputSecond, second, half, mode)
	if err != nil {
		return nil, err
	}

	canvas, err := compose.AssembleSplit(top, bottom, r.canvas)
	if err != nil {
		return nil, &RenderError{Stage: StageAssemble, Err: err}
	}
	return canvas, nil
}

// RenderSoloBytes runs decode, compose and encode for a one-image job.
func (r *Renderer) RenderSoloBytes(ctx context.Context, src []byte, mode domain.LayoutMode) (Rendered, error) {
	ctx, span := r.tracer.Start(ctx, "render.solo", trace.WithAttributes(
		attribute.String("render.mode", mode.String()),
		attribute.Int("render.source_bytes", len(src)),
	))
	defer span.End()

	img, err := r.decode(ctx, "", src)
	if err != nil {
		span.RecordError(err)
		return Rendered{}, err
	}

	canvas, err := r.RenderSolo(ctx, img, mode)
	if err != nil {
		span.RecordError(err)
		return Rendered{}, err
	}
	return r.encode(canvas, pixelsOf(img))
}

// RenderPairedBytes runs decode, compose, assemble and encode for a split job.
func (r *Renderer) RenderPairedBytes(ctx context.Context, first, second []byte, mode domain.LayoutMode) (Rendered, error) {
	ctx, span := r.tracer.Start(ctx, "render.paired", trace.WithAttributes(
		attribute.String("render.mode", mode.String()),
		attribute.Int("render.first_bytes", len(first)),
		attribute.Int("render.second_bytes", len(second)),
	))
	defer span.End()

	firstImg, err := r.decode(ctx, InputFirst, first)
	if err != nil {
		span.RecordError(err)
		return Rendered{}, err
	}
	secondImg, err := r.decode(ctx, InputSecond, second)
	if err != nil {
		span.RecordError(err)
		return Rendered{}, err
	}

	canvas, err := r.RenderPaired(ctx, firstImg, secondImg, mode)
	if err != nil {
		span.RecordError(err)
		return Rendered{}, err
	}
	return r.encode(canvas, pixelsOf(firstImg)+pixelsOf(secondImg))
}

func (r *Renderer) frame(ctx context.Context, input string, img image.Image, target domain.Dimensions, mode domain.LayoutMode) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, err := compose.Normalize(img)
	if err != nil {
		return nil, &RenderError{Input: input, Stage: StageNormalize, Err: err}
	}

	out, err := compose.ComposeFrame(normalized, target, mode, r.opts)
	if err != nil {
		return nil, &RenderError{Input: input, Stage: StageCompose, Err: err}
	}
	return out, nil
}

func (r *Renderer) decode(ctx context.Context, input string, data []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := r.codec.Decode(data)
	if err != nil {
		return nil, &RenderError{Input: input, Stage: StageDecode, Err: err}
	}
	return img, nil
}

func (r *Renderer) encode(canvas *image.NRGBA, sourcePixels int64) (Rendered, error) {
	data, err := r.codec.Encode(canvas, r.quality)
	if err != nil {
		return Rendered{}, &RenderError{Stage: StageEncode, Err: err}
	}

	b := canvas.Bounds()
	return Rendered{
		Data:         data,
		Format:       OutputFormat,
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourcePixels: sourcePixels,
	}, nil
}

func pixelsOf(img image.Image) int64 {
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy())
}
