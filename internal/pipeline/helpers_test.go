package pipeline

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func gradientNRGBA(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			row[i+0] = uint8((x * 255) / w)
			row[i+1] = uint8((y * 255) / h)
			row[i+2] = 140
			row[i+3] = 255
		}
	}
	return img
}

func buildTestPNG(tb testing.TB, w, h int) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, gradientNRGBA(w, h)); err != nil {
		tb.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func decodeSize(tb testing.TB, data []byte) (int, int, string) {
	tb.Helper()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		tb.Fatalf("decode output: %v", err)
	}
	return cfg.Width, cfg.Height, format
}
