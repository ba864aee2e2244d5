package compose

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/dunamismax/storyframe/internal/domain"
)

// AssembleSplit stacks two half-height frames into one canvas: top at (0,0),
// bottom at (0, canvas.Height/2). Both halves must already measure
// canvas.Width x canvas.Height/2; nothing is allocated when they do not.
func AssembleSplit(top, bottom image.Image, canvas domain.Dimensions) (*image.NRGBA, error) {
	if !canvas.Valid() || canvas.Height%2 != 0 {
		return nil, fmt.Errorf("%w: split canvas %s", ErrInvalidDimensions, canvas)
	}

	half := canvas.Half()
	if err := expectSize("top", top, half); err != nil {
		return nil, err
	}
	if err := expectSize("bottom", bottom, half); err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(image.Rect(0, 0, canvas.Width, canvas.Height))
	draw.Draw(dst, image.Rect(0, 0, half.Width, half.Height), top, top.Bounds().Min, draw.Src)
	draw.Draw(dst, image.Rect(0, half.Height, half.Width, canvas.Height), bottom, bottom.Bounds().Min, draw.Src)
	return dst, nil
}

func expectSize(name string, img image.Image, want domain.Dimensions) error {
	if img == nil {
		return fmt.Errorf("%w: %s half is missing", ErrDimensionMismatch, name)
	}
	b := img.Bounds()
	if b.Dx() != want.Width || b.Dy() != want.Height {
		return fmt.Errorf("%w: %s half is %dx%d, want %s", ErrDimensionMismatch, name, b.Dx(), b.Dy(), want)
	}
	return nil
}
