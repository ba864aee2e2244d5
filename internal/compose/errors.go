package compose

import "errors"

var (
	ErrInvalidDimensions     = errors.New("invalid dimensions")
	ErrUnsupportedColorModel = errors.New("unsupported color model")
	// ErrDimensionMismatch signals a caller bug: half-frames were not sized
	// for the canvas they are being assembled into.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)
