package compose

import (
	"fmt"
	"image"
	"math"
)

// ComputeFillCrop returns the largest centered rectangle inside a srcW x srcH
// image whose aspect ratio matches dstW:dstH. The rectangle is relative to the
// source origin and always lies within the source bounds.
func ComputeFillCrop(srcW, srcH, dstW, dstH int) (image.Rectangle, error) {
	if err := checkDimensions(srcW, srcH, dstW, dstH); err != nil {
		return image.Rectangle{}, err
	}

	// srcW/srcH > dstW/dstH, compared without floating point.
	if int64(srcW)*int64(dstH) > int64(dstW)*int64(srcH) {
		cropW := clamp(roundInt(float64(srcH)*float64(dstW)/float64(dstH)), 1, srcW)
		x := (srcW - cropW) / 2
		return image.Rect(x, 0, x+cropW, srcH), nil
	}

	cropH := clamp(roundInt(float64(srcW)*float64(dstH)/float64(dstW)), 1, srcH)
	y := (srcH - cropH) / 2
	return image.Rect(0, y, srcW, y+cropH), nil
}

// ComputeFit returns the size of a srcW x srcH image scaled down to fit inside
// boxW x boxH with its aspect ratio preserved. Sources that already fit are
// returned unchanged; the result is never larger than the source.
func ComputeFit(srcW, srcH, boxW, boxH int) (int, int, error) {
	if err := checkDimensions(srcW, srcH, boxW, boxH); err != nil {
		return 0, 0, err
	}
	if srcW <= boxW && srcH <= boxH {
		return srcW, srcH, nil
	}

	if int64(srcW)*int64(boxH) >= int64(boxW)*int64(srcH) {
		h := clamp(roundInt(float64(srcH)*float64(boxW)/float64(srcW)), 1, boxH)
		return boxW, h, nil
	}
	w := clamp(roundInt(float64(srcW)*float64(boxH)/float64(srcH)), 1, boxW)
	return w, boxH, nil
}

// CenterOffset is the top-left position that centers an inner rectangle in an
// outer one, rounding toward the top-left.
func CenterOffset(outerW, outerH, innerW, innerH int) image.Point {
	return image.Pt((outerW-innerW)/2, (outerH-innerH)/2)
}

func checkDimensions(srcW, srcH, dstW, dstH int) error {
	if srcW <= 0 || srcH <= 0 {
		return fmt.Errorf("%w: source %dx%d", ErrInvalidDimensions, srcW, srcH)
	}
	if dstW <= 0 || dstH <= 0 {
		return fmt.Errorf("%w: target %dx%d", ErrInvalidDimensions, dstW, dstH)
	}
	return nil
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
