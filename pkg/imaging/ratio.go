// Package imaging parses aspect ratios, computes center-crop rectangles and
// provides the stdlib-backed image prober and cropper.
package imaging

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ISORatio is the aspect ratio of ISO 216 paper (1:√2), portrait.
var ISORatio = 1 / math.Sqrt2

var isoPaperRe = regexp.MustCompile(`^a[1-9]$`)

// RatioError reports an aspect ratio that cannot be parsed.
type RatioError struct {
	Value string
}

func (e *RatioError) Error() string {
	return fmt.Sprintf("invalid aspect ratio %q: expected WxH, W:H, iso or a1-a9", e.Value)
}

// ParseAspectRatio converts "3x2", "3:2", "iso" or "a4" (case-insensitive)
// into width/height.
func ParseAspectRatio(s string) (float64, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "iso" || isoPaperRe.MatchString(v) {
		return ISORatio, nil
	}
	sep := strings.IndexAny(v, "x:")
	if sep < 0 {
		return 0, &RatioError{Value: s}
	}
	w, errW := parsePositive(v[:sep])
	h, errH := parsePositive(v[sep+1:])
	if errW != nil || errH != nil {
		return 0, &RatioError{Value: s}
	}
	return w / h, nil
}

func parsePositive(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("not a positive number: %q", s)
	}
	return f, nil
}

// Region is a crop rectangle in pixels.
type Region struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.Left, r.Top)
}

// CenterCrop returns the largest rectangle of the given ratio centered in a
// width×height image. Images wider than the ratio keep their full height;
// the rest keep their full width. Every component is floored.
func CenterCrop(width, height int, ratio float64) Region {
	w, h := float64(width), float64(height)
	if w/h > ratio {
		cropWidth := h * ratio
		return Region{
			Left:   int(math.Floor((w - cropWidth) / 2)),
			Top:    0,
			Width:  int(math.Floor(cropWidth)),
			Height: height,
		}
	}
	cropHeight := w / ratio
	return Region{
		Left:   0,
		Top:    int(math.Floor((h - cropHeight) / 2)),
		Width:  width,
		Height: int(math.Floor(cropHeight)),
	}
}
