package compose

import (
	"image"
	"image/color"
	"testing"
)

func gradientImage(t *testing.T, w, h int) *image.NRGBA {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / max(1, w)),
				G: uint8((y * 255) / max(1, h)),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

func assertSize(t *testing.T, img image.Image, w, h int) {
	t.Helper()
	if got := img.Bounds(); got.Dx() != w || got.Dy() != h {
		t.Fatalf("expected %dx%d image, got %dx%d", w, h, got.Dx(), got.Dy())
	}
}

func assertOpaque(t *testing.T, img *image.NRGBA) {
	t.Helper()
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			t.Fatalf("expected opaque output, found alpha=%d at byte %d", img.Pix[i], i)
		}
	}
}
