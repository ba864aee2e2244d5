package domain

import (
	"fmt"
	"strings"
)

// LayoutMode selects how a single source image is mapped onto a frame.
type LayoutMode string

const (
	// ModeFill crops the source to cover the frame completely.
	ModeFill LayoutMode = "fill"
	// ModeFitBlurred shows the whole source over a blurred full-bleed copy of itself.
	ModeFitBlurred LayoutMode = "fit"
)

// ParseLayoutMode accepts "fill" and "fit" (plus a few aliases). An empty
// value yields fallback.
func ParseLayoutMode(raw string, fallback LayoutMode) (LayoutMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return fallback, nil
	case "fill", "crop", "cover":
		return ModeFill, nil
	case "fit", "fit_blurred", "fit-blurred", "blur", "contain":
		return ModeFitBlurred, nil
	default:
		return "", fmt.Errorf("unsupported layout mode: %q", raw)
	}
}

func (m LayoutMode) String() string {
	return string(m)
}

// Layout distinguishes one-image jobs from two-image split jobs.
type Layout string

const (
	LayoutSolo   Layout = "solo"
	LayoutPaired Layout = "paired"
)

// SourceCount is the number of input images a layout consumes.
func (l Layout) SourceCount() int {
	if l == LayoutPaired {
		return 2
	}
	return 1
}

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Half returns the frame size of one half of a vertical split.
func (d Dimensions) Half() Dimensions {
	return Dimensions{Width: d.Width, Height: d.Height / 2}
}

func (d Dimensions) Pixels() int64 {
	return int64(d.Width) * int64(d.Height)
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}
