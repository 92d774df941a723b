package render

import (
	"math"

	"certifica/issuance-backend/internal/layout"
	apperrors "certifica/issuance-backend/pkg/errors"
)

// Fixed geometry, in pixels at layout.DefaultReferenceWidth.
const (
	// SignatureRowY is the vertical position of the signature lines as a
	// fraction of the template height. It does not depend on the signer count.
	SignatureRowY = 0.83

	bodyBoxWidth = 0.70

	logoHeight = 120.0
	logoMargin = 60.0

	qrSize = 180.0

	signatureSpacing    = 480.0
	signatureImageH     = 90.0
	signatureGap        = 8.0
	signatureLineHalf   = 170.0
	signatureLineWidth  = 2.0
	signatureNameFont   = 20.0
	signatureRoleFont   = 16.0
	signatureImageRatio = 0.7
)

// TextOp draws text centered on (X, Y). MaxWidth > 0 wraps it into a block
// whose vertical center is Y.
type TextOp struct {
	Element     string
	Text        string
	X, Y        float64
	FontSize    float64
	Bold        bool
	Color       Color
	MaxWidth    float64
	LineSpacing float64
}

// ImageOp draws an asset into the box with top-left corner (X, Y).
type ImageOp struct {
	Element string
	Asset   *Asset
	X, Y    float64
	Width   float64
	Height  float64
}

// LineOp draws a straight line.
type LineOp struct {
	X1, Y1, X2, Y2 float64
	Width          float64
	Color          Color
}

// Plan is a fully resolved document layout.
type Plan struct {
	Width      int
	Height     int
	Background *Asset
	Body       Body
	Images     []ImageOp
	Texts      []TextOp
	Lines      []LineOp
}

// PlacedLogo is a logo whose image was loaded.
type PlacedLogo struct {
	Logo  Logo
	Asset *Asset
}

// Assets are the loaded images of a Document. Signatures is parallel to
// Document.Signatures; a nil entry is a signer whose image is missing.
type Assets struct {
	Background *Asset
	Logos      []PlacedLogo
	Signatures []*Asset
	QR         *Asset
}

// BuildPlan lays out doc on its background.
func BuildPlan(doc Document, assets Assets) (*Plan, error) {
	if assets.Background == nil {
		return nil, apperrors.New(apperrors.CodeTemplateMissing, "no background loaded")
	}
	dims := layout.Dimensions{Width: assets.Background.Width, Height: assets.Background.Height}
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	if len(doc.Signatures) > MaxSignatures {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "%d signatures exceed the limit of %d", len(doc.Signatures), MaxSignatures)
	}

	p := &Plan{
		Width:      dims.Width,
		Height:     dims.Height,
		Background: assets.Background,
		Body:       PrepareBody(doc.BodyText),
	}

	title := doc.Title
	if title == "" {
		title = doc.Template.Title
	}
	titleColor := ParseColor(doc.Template.TitleColor, DefaultTitleColor)
	textColor := ParseColor(doc.Template.TextColor, DefaultTextColor)

	p.planLogos(assets.Logos, dims)

	texts := []struct {
		element string
		value   string
		bold    bool
		color   Color
	}{
		{ElementTitle, title, true, titleColor},
		{ElementRecipient, doc.RecipientName, true, titleColor},
		{ElementCourse, doc.CourseName, true, textColor},
		{ElementHours, doc.Hours, false, textColor},
		{ElementDate, doc.FormattedDate, false, textColor},
	}
	for _, t := range texts {
		if t.value == "" {
			continue
		}
		pos, err := layout.Resolve(placementFor(doc.Template, t.element), dims)
		if err != nil {
			return nil, err
		}
		p.Texts = append(p.Texts, TextOp{
			Element:     t.element,
			Text:        t.value,
			X:           pos.PixelX,
			Y:           pos.PixelY,
			FontSize:    float64(pos.FontSize),
			Bold:        t.bold,
			Color:       t.color,
			LineSpacing: 1,
		})
	}

	if p.Body.Text != "" {
		pos, err := layout.Resolve(placementFor(doc.Template, ElementBody), dims)
		if err != nil {
			return nil, err
		}
		p.Texts = append(p.Texts, TextOp{
			Element:     ElementBody,
			Text:        p.Body.Text,
			X:           pos.PixelX,
			Y:           pos.PixelY,
			FontSize:    p.Body.Style.FontSize(pos.FontSize),
			Color:       textColor,
			MaxWidth:    float64(dims.Width) * bodyBoxWidth,
			LineSpacing: p.Body.Style.LineSpacing(),
		})
	}

	if err := p.planQR(doc, assets.QR, dims, textColor); err != nil {
		return nil, err
	}

	p.planSignatures(doc.Signatures, assets.Signatures, dims, textColor)

	return p, nil
}

func scale(v float64, dims layout.Dimensions) float64 {
	return layout.ScaleLength(v, dims.Width, layout.DefaultReferenceWidth)
}

// fit scales an asset to height h, narrowing it if it is wider than maxW.
func fit(a *Asset, h, maxW float64) (float64, float64) {
	w := h * float64(a.Width) / float64(a.Height)
	if maxW > 0 && w > maxW {
		h = h * maxW / w
		w = maxW
	}
	return w, h
}

func (p *Plan) planLogos(logos []PlacedLogo, dims layout.Dimensions) {
	height := scale(logoHeight, dims)
	margin := scale(logoMargin, dims)
	gap := margin / 2
	maxW := float64(dims.Width) / 4

	var leading, trailing, centered []PlacedLogo
	for _, l := range logos {
		if l.Asset == nil {
			continue
		}
		switch l.Logo.Position {
		case LogoTrailing:
			trailing = append(trailing, l)
		case LogoCenteredTop:
			centered = append(centered, l)
		default:
			leading = append(leading, l)
		}
	}

	x := margin
	for _, l := range leading {
		w, h := fit(l.Asset, height, maxW)
		p.Images = append(p.Images, ImageOp{Element: "logo", Asset: l.Asset, X: x, Y: margin, Width: w, Height: h})
		x += w + gap
	}

	x = float64(dims.Width) - margin
	for _, l := range trailing {
		w, h := fit(l.Asset, height, maxW)
		x -= w
		p.Images = append(p.Images, ImageOp{Element: "logo", Asset: l.Asset, X: x, Y: margin, Width: w, Height: h})
		x -= gap
	}

	if len(centered) == 0 {
		return
	}
	total := gap * float64(len(centered)-1)
	sizes := make([][2]float64, len(centered))
	for i, l := range centered {
		w, h := fit(l.Asset, height, maxW)
		sizes[i] = [2]float64{w, h}
		total += w
	}
	x = (float64(dims.Width) - total) / 2
	for i, l := range centered {
		p.Images = append(p.Images, ImageOp{Element: "logo", Asset: l.Asset, X: x, Y: margin, Width: sizes[i][0], Height: sizes[i][1]})
		x += sizes[i][0] + gap
	}
}

func (p *Plan) planQR(doc Document, qr *Asset, dims layout.Dimensions, c Color) error {
	if qr == nil && doc.Code == "" {
		return nil
	}
	pos, err := layout.Resolve(placementFor(doc.Template, ElementQR), dims)
	if err != nil {
		return err
	}

	size := scale(qrSize, dims)
	if qr != nil {
		p.Images = append(p.Images, ImageOp{
			Element: ElementQR,
			Asset:   qr,
			X:       pos.PixelX - size/2,
			Y:       pos.PixelY - size/2,
			Width:   size,
			Height:  size,
		})
	}
	if doc.Code != "" {
		font := float64(pos.FontSize)
		p.Texts = append(p.Texts, TextOp{
			Element:     ElementCode,
			Text:        doc.Code,
			X:           pos.PixelX,
			Y:           pos.PixelY + size/2 + font,
			FontSize:    font,
			Color:       c,
			LineSpacing: 1,
		})
	}
	return nil
}

// planSignatures centers 1..3 blocks on the horizontal middle, evenly spaced,
// with the signature lines at SignatureRowY.
func (p *Plan) planSignatures(sigs []SignatureBlock, images []*Asset, dims layout.Dimensions, c Color) {
	n := len(sigs)
	if n == 0 {
		return
	}

	rowY := math.Round(float64(dims.Height) * SignatureRowY)
	spacing := scale(signatureSpacing, dims)
	lineHalf := scale(signatureLineHalf, dims)
	lineWidth := math.Max(1, scale(signatureLineWidth, dims))
	gap := scale(signatureGap, dims)
	nameFont := float64(layout.ScaleFontSize(signatureNameFont, dims.Width, layout.DefaultReferenceWidth))
	roleFont := float64(layout.ScaleFontSize(signatureRoleFont, dims.Width, layout.DefaultReferenceWidth))

	for i, sig := range sigs {
		cx := float64(dims.Width)/2 + (float64(i)-float64(n-1)/2)*spacing

		if i < len(images) && images[i] != nil {
			w, h := fit(images[i], scale(signatureImageH, dims), spacing*signatureImageRatio)
			p.Images = append(p.Images, ImageOp{
				Element: "signature",
				Asset:   images[i],
				X:       cx - w/2,
				Y:       rowY - gap - h,
				Width:   w,
				Height:  h,
			})
		}

		p.Lines = append(p.Lines, LineOp{X1: cx - lineHalf, Y1: rowY, X2: cx + lineHalf, Y2: rowY, Width: lineWidth, Color: lineColor})

		nameY := rowY + nameFont
		if sig.Name != "" {
			p.Texts = append(p.Texts, TextOp{Element: "signature_name", Text: sig.Name, X: cx, Y: nameY, FontSize: nameFont, Bold: true, Color: c, LineSpacing: 1})
		}
		if sig.Role != "" {
			p.Texts = append(p.Texts, TextOp{Element: "signature_role", Text: sig.Role, X: cx, Y: nameY + roleFont*1.4, FontSize: roleFont, Color: c, LineSpacing: 1})
		}
	}
}

// TextByElement returns the first text op for element.
func (p *Plan) TextByElement(element string) (TextOp, bool) {
	for _, t := range p.Texts {
		if t.Element == element {
			return t, true
		}
	}
	return TextOp{}, false
}
