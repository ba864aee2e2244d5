//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

// govipsCodec decodes anything libvips understands (including HEIC and AVIF
// when libvips is built with them) and exports JPEG without chroma
// subsampling.
type govipsCodec struct{}

func (govipsCodec) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode source image: empty input")
	}

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("auto-rotate source image: %w", err)
	}

	raw, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("convert source image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("convert source image: %w", err)
	}
	return img, nil
}

func (govipsCodec) Encode(img image.Image, quality int) ([]byte, error) {
	var raw bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&raw, img); err != nil {
		return nil, fmt.Errorf("stage canvas for libvips: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load canvas into libvips: %w", err)
	}
	defer ref.Close()

	params := vips.NewJpegExportParams()
	params.Quality = normalizeQuality(quality)
	params.SubsampleMode = vips.VipsForeignSubsampleOff
	params.StripMetadata = true
	data, _, err := ref.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return data, nil
}
