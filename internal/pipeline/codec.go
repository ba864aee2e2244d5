package pipeline

import (
	"image"
	"strings"
)

const (
	OutputFormat      = "jpeg"
	OutputContentType = "image/jpeg"
	DefaultQuality    = 95
)

// Codec turns uploaded bytes into pixels and rendered canvases back into a
// compressed still image.
type Codec interface {
	Decode(data []byte) (image.Image, error)
	Encode(img image.Image, quality int) ([]byte, error)
}

func normalizeQuality(quality int) int {
	if quality <= 0 || quality > 100 {
		return DefaultQuality
	}
	return quality
}

func extensionForFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "jpg"
	case "png":
		return "png"
	default:
		return "bin"
	}
}
