package pipeline

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegli"
	_ "golang.org/x/image/webp"
)

// pureGoCodec decodes jpeg, png, gif, bmp, tiff and webp without cgo and
// encodes baseline JPEG with full-resolution (4:4:4) chroma through jpegli's
// WebAssembly build.
type pureGoCodec struct{}

func (pureGoCodec) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode source image: empty input")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	return img, nil
}

func (pureGoCodec) Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	err := jpegli.Encode(&buf, img, &jpegli.EncodingOptions{
		Quality:           normalizeQuality(quality),
		ChromaSubsampling: image.YCbCrSubsampleRatio444,
		ProgressiveLevel:  0,
		OptimizeCoding:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
