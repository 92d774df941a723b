package render

import (
	"math"

	"certifica/issuance-backend/internal/layout"
)

const (
	// MaxBodyLength is the longest body printed before truncation, in characters.
	MaxBodyLength = 300
	// LongBodyLength is the length above which the compact style is used.
	LongBodyLength = 200

	ellipsis = "..."

	standardLineSpacing = 1.45
	longLineSpacing     = 1.15
	longFontFactor      = 0.85
)

// BodyStyle selects font size and line spacing for the body text.
type BodyStyle string

const (
	BodyStandard BodyStyle = "standard"
	BodyLong     BodyStyle = "long"
)

// Body is the body text as it will be printed.
type Body struct {
	Text      string
	Style     BodyStyle
	Truncated bool
}

// PrepareBody truncates text to MaxBodyLength characters plus "..." and picks
// the style from the final length, so a truncated body is always long.
func PrepareBody(text string) Body {
	runes := []rune(text)
	body := Body{Text: text}
	if len(runes) > MaxBodyLength {
		body.Text = string(runes[:MaxBodyLength]) + ellipsis
		body.Truncated = true
	}

	body.Style = BodyStandard
	if len([]rune(body.Text)) > LongBodyLength {
		body.Style = BodyLong
	}
	return body
}

// FontSize applies the style to a scaled font size.
func (s BodyStyle) FontSize(scaled int) float64 {
	if s != BodyLong {
		return float64(scaled)
	}
	return math.Max(layout.MinFontSize, math.Round(float64(scaled)*longFontFactor))
}

// LineSpacing returns the line height multiplier for the style.
func (s BodyStyle) LineSpacing() float64 {
	if s == BodyLong {
		return longLineSpacing
	}
	return standardLineSpacing
}
