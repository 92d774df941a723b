package layout

import (
	"math"

	apperrors "certifica/issuance-backend/pkg/errors"
)

const (
	// MinFontSize and MaxFontSize bound every scaled font size.
	MinFontSize = 10
	MaxFontSize = 120

	// DefaultReferenceWidth is the template width placements are designed against
	// when a placement does not name one.
	DefaultReferenceWidth = 1920.0
)

// Placement is a normalized position plus a font size designed for a reference width.
type Placement struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	BaseFontSize   float64 `json:"base_font_size"`
	ReferenceWidth float64 `json:"reference_width"`
}

// Dimensions are the pixel dimensions of a template background.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Position is a placement resolved against a concrete template.
type Position struct {
	PixelX   float64 `json:"pixel_x"`
	PixelY   float64 `json:"pixel_y"`
	FontSize int     `json:"font_size"`
}

// Validate rejects templates that would produce NaN or infinite coordinates.
func (d Dimensions) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return apperrors.New(apperrors.CodeTemplateInvalid, "template dimensions %dx%d", d.Width, d.Height)
	}
	return nil
}

// Resolve converts a placement into absolute pixel coordinates and a scaled font size.
func Resolve(p Placement, d Dimensions) (Position, error) {
	if err := d.Validate(); err != nil {
		return Position{}, err
	}
	return Position{
		PixelX:   clamp01(p.X) * float64(d.Width),
		PixelY:   clamp01(p.Y) * float64(d.Height),
		FontSize: ScaleFontSize(p.BaseFontSize, d.Width, p.ReferenceWidth),
	}, nil
}

// ScaleFontSize scales base by width/referenceWidth, rounds, and clamps into
// [MinFontSize, MaxFontSize].
func ScaleFontSize(base float64, width int, referenceWidth float64) int {
	scaled := math.Round(base * ratio(width, referenceWidth))
	if math.IsNaN(scaled) || scaled < MinFontSize {
		return MinFontSize
	}
	if scaled > MaxFontSize {
		return MaxFontSize
	}
	return int(scaled)
}

// ScaleLength scales a length designed for referenceWidth onto a template width.
// Used for logo heights, signature images and line widths.
func ScaleLength(v float64, width int, referenceWidth float64) float64 {
	if width <= 0 {
		return 0
	}
	return v * ratio(width, referenceWidth)
}

func ratio(width int, referenceWidth float64) float64 {
	if referenceWidth <= 0 || math.IsNaN(referenceWidth) || math.IsInf(referenceWidth, 0) {
		referenceWidth = DefaultReferenceWidth
	}
	return float64(width) / referenceWidth
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
