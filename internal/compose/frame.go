package compose

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/storyframe/internal/domain"
)

// CanonicalCanvas is the story canvas the blur strength is tuned for.
var CanonicalCanvas = domain.Dimensions{Width: 2160, Height: 3840}

const (
	DefaultBlurSigma     = 50.0
	DefaultBlurDownscale = 8
)

// Options tunes the FitBlurred backdrop.
type Options struct {
	// BlurSigma is the Gaussian sigma in output pixels.
	BlurSigma float64
	// BlurDownscale blurs the backdrop at 1/BlurDownscale of the frame size
	// and scales it back up. The backdrop itself is always the exact Fill
	// frame; only the blur is approximated. 1 blurs at full resolution.
	BlurDownscale int
}

func DefaultOptions() Options {
	return Options{
		BlurSigma:     DefaultBlurSigma,
		BlurDownscale: DefaultBlurDownscale,
	}
}

// ScaledBlurSigma keeps the backdrop blur proportional when the canvas differs
// from CanonicalCanvas.
func ScaledBlurSigma(base float64, canvas domain.Dimensions) float64 {
	if canvas.Width <= 0 {
		return base
	}
	return base * float64(canvas.Width) / float64(CanonicalCanvas.Width)
}

// Normalize converts img to an opaque NRGBA image anchored at the origin.
// Alpha is discarded, not composited. Already-normalized images are returned
// as is.
func Normalize(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrUnsupportedColorModel)
	}
	switch img.ColorModel() {
	case color.AlphaModel, color.Alpha16Model:
		return nil, fmt.Errorf("%w: alpha-only image has no color channels", ErrUnsupportedColorModel)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: source %dx%d", ErrInvalidDimensions, b.Dx(), b.Dy())
	}

	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Opaque() {
		return n, nil
	}

	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst, nil
}

// ComposeFrame maps src onto a frame of exactly target size. The input is
// never modified.
func ComposeFrame(src image.Image, target domain.Dimensions, mode domain.LayoutMode, opts Options) (*image.NRGBA, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: target %s", ErrInvalidDimensions, target)
	}
	img, err := Normalize(src)
	if err != nil {
		return nil, err
	}

	switch mode {
	case domain.ModeFill:
		return fill(img, target, imaging.Lanczos)
	case domain.ModeFitBlurred:
		return fitBlurred(img, target, opts)
	default:
		return nil, fmt.Errorf("unsupported layout mode: %q", mode)
	}
}

func fill(img *image.NRGBA, target domain.Dimensions, filter imaging.ResampleFilter) (*image.NRGBA, error) {
	b := img.Bounds()
	crop, err := ComputeFillCrop(b.Dx(), b.Dy(), target.Width, target.Height)
	if err != nil {
		return nil, err
	}
	cropped := imaging.Crop(img, crop.Add(b.Min))
	return imaging.Resize(cropped, target.Width, target.Height, filter), nil
}

func fitBlurred(img *image.NRGBA, target domain.Dimensions, opts Options) (*image.NRGBA, error) {
	background, err := blurredBackdrop(img, target, opts)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	fgW, fgH, err := ComputeFit(b.Dx(), b.Dy(), target.Width, target.Height)
	if err != nil {
		return nil, err
	}

	var foreground *image.NRGBA
	if fgW == b.Dx() && fgH == b.Dy() {
		foreground = img
	} else {
		foreground = imaging.Resize(img, fgW, fgH, imaging.Lanczos)
	}

	return imaging.Paste(background, foreground, CenterOffset(target.Width, target.Height, fgW, fgH)), nil
}

// blurredBackdrop is the Fill frame with a Gaussian blur. When
// opts.BlurDownscale is above 1 the blur runs on a reduced copy that is
// scaled back up, which is indistinguishable at large sigmas.
func blurredBackdrop(img *image.NRGBA, target domain.Dimensions, opts Options) (*image.NRGBA, error) {
	bg, err := fill(img, target, imaging.Lanczos)
	if err != nil {
		return nil, err
	}
	sigma := opts.BlurSigma
	if sigma <= 0 {
		return bg, nil
	}

	scale := max(1, opts.BlurDownscale)
	if scale == 1 {
		return imaging.Blur(bg, sigma), nil
	}
	small := imaging.Resize(bg, max(1, target.Width/scale), max(1, target.Height/scale), imaging.Linear)
	small = imaging.Blur(small, sigma/float64(scale))
	return imaging.Resize(small, target.Width, target.Height, imaging.Linear), nil
}
