// Package render composes finished certificate documents.
//
// Rendering happens in two steps. BuildPlan turns a Document and its loaded
// assets into a Plan: every image, text run and line with absolute positions,
// font sizes and colors. A Backend then draws the Plan into a PDF or PNG.
// BuildPlan is pure, so identical inputs always produce the same layout no
// matter which backend draws it.
package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"certifica/issuance-backend/internal/layout"
)

// LogoPosition tags where a logo sits along the top edge of the template.
type LogoPosition string

const (
	LogoLeading     LogoPosition = "leading"
	LogoTrailing    LogoPosition = "trailing"
	LogoCenteredTop LogoPosition = "centered-top"
)

// MaxLogos and MaxSignatures bound the number of assets drawn on a document.
const (
	MaxLogos      = 3
	MaxSignatures = 3
)

// Element names used as placement keys.
const (
	ElementTitle     = "title"
	ElementRecipient = "recipient"
	ElementBody      = "body"
	ElementCourse    = "course"
	ElementHours     = "hours"
	ElementDate      = "date"
	ElementQR        = "qr"
	ElementCode      = "code"
)

// Logo is a template logo and its position tag.
type Logo struct {
	Path     string       `json:"path"`
	Position LogoPosition `json:"position"`
}

// Valid reports whether the position is one of the known tags.
func (p LogoPosition) Valid() bool {
	switch p {
	case LogoLeading, LogoTrailing, LogoCenteredTop:
		return true
	}
	return false
}

// Template is the visual configuration of one company.
type Template struct {
	BackgroundPath string
	// LegacyLogoPath is the single-logo field that predates Logos. It is still
	// drawn, as a leading logo, unless the same path is already in Logos.
	LegacyLogoPath string
	Logos          []Logo
	Placements     map[string]layout.Placement

	// Title is printed when the document carries none.
	Title      string
	TitleColor string
	TextColor  string
}

// SignatureBlock is one signer shown in the signature row.
type SignatureBlock struct {
	Name      string
	Role      string
	ImagePath string
}

// Document holds everything printed on one certificate.
type Document struct {
	Template      Template
	Title         string
	RecipientName string
	BodyText      string
	CourseName    string
	FormattedDate string
	Hours         string
	Code          string
	// ScannableCode is an encoded PNG, usually from EncodeQR.
	ScannableCode []byte
	Signatures    []SignatureBlock
}

// EffectiveLogos returns the logos to draw: the legacy logo first when it is
// set and not duplicated, followed by the tagged logos, capped at MaxLogos.
// Unknown position tags are treated as leading.
func EffectiveLogos(t Template) []Logo {
	logos := make([]Logo, 0, len(t.Logos)+1)

	legacy := strings.TrimSpace(t.LegacyLogoPath)
	if legacy != "" {
		seen := false
		for _, l := range t.Logos {
			if l.Path == legacy {
				seen = true
				break
			}
		}
		if !seen {
			logos = append(logos, Logo{Path: legacy, Position: LogoLeading})
		}
	}

	for _, l := range t.Logos {
		if strings.TrimSpace(l.Path) == "" {
			continue
		}
		if !l.Position.Valid() {
			l.Position = LogoLeading
		}
		logos = append(logos, l)
	}

	if len(logos) > MaxLogos {
		logos = logos[:MaxLogos]
	}
	return logos
}

// DefaultPlacements are designed against a 1920px wide template.
func DefaultPlacements() map[string]layout.Placement {
	ref := layout.DefaultReferenceWidth
	return map[string]layout.Placement{
		ElementTitle:     {X: 0.5, Y: 0.22, BaseFontSize: 64, ReferenceWidth: ref},
		ElementRecipient: {X: 0.5, Y: 0.40, BaseFontSize: 56, ReferenceWidth: ref},
		ElementBody:      {X: 0.5, Y: 0.50, BaseFontSize: 22, ReferenceWidth: ref},
		ElementCourse:    {X: 0.5, Y: 0.62, BaseFontSize: 30, ReferenceWidth: ref},
		ElementHours:     {X: 0.5, Y: 0.67, BaseFontSize: 20, ReferenceWidth: ref},
		ElementDate:      {X: 0.5, Y: 0.72, BaseFontSize: 20, ReferenceWidth: ref},
		ElementQR:        {X: 0.90, Y: 0.82, BaseFontSize: 14, ReferenceWidth: ref},
	}
}

func placementFor(t Template, element string) layout.Placement {
	if p, ok := t.Placements[element]; ok {
		return p
	}
	return DefaultPlacements()[element]
}

// Color is an opaque RGB color.
type Color struct {
	R, G, B uint8
}

// Std converts c to a standard library color.
func (c Color) Std() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
}

var (
	DefaultTitleColor = Color{R: 0x11, G: 0x18, B: 0x27}
	DefaultTextColor  = Color{R: 0x1f, G: 0x29, B: 0x37}
	lineColor         = Color{R: 0x37, G: 0x41, B: 0x51}
)

// ParseColor parses "#rgb" or "#rrggbb". Anything else yields fallback.
func ParseColor(hex string, fallback Color) Color {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) == 3 {
		hex = fmt.Sprintf("%c%c%c%c%c%c", hex[0], hex[0], hex[1], hex[1], hex[2], hex[2])
	}
	if len(hex) != 6 {
		return fallback
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return fallback
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}
