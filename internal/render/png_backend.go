package render

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

// PNGBackend rasterizes plans with gogpu/gg using the Go fonts.
type PNGBackend struct {
	regular *text.FontSource
	bold    *text.FontSource
}

// NewPNGBackend loads the fonts. Call Close when done.
func NewPNGBackend() (*PNGBackend, error) {
	regular, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to load regular font: %w", err)
	}
	bold, err := text.NewFontSource(gobold.TTF)
	if err != nil {
		regular.Close()
		return nil, fmt.Errorf("failed to load bold font: %w", err)
	}
	return &PNGBackend{regular: regular, bold: bold}, nil
}

func (b *PNGBackend) Format() string { return "png" }

func (b *PNGBackend) Draw(plan *Plan, w io.Writer) error {
	dc := gg.NewContext(plan.Width, plan.Height)
	defer dc.Close()

	if err := drawAsset(dc, plan.Background, 0, 0, float64(plan.Width), float64(plan.Height)); err != nil {
		return err
	}
	for _, img := range plan.Images {
		if err := drawAsset(dc, img.Asset, img.X, img.Y, img.Width, img.Height); err != nil {
			return err
		}
	}

	for _, line := range plan.Lines {
		dc.SetColor(line.Color.Std())
		dc.SetLineWidth(line.Width)
		dc.DrawLine(line.X1, line.Y1, line.X2, line.Y2)
		if err := dc.Stroke(); err != nil {
			return fmt.Errorf("failed to stroke line: %w", err)
		}
	}

	for _, op := range plan.Texts {
		source := b.regular
		if op.Bold {
			source = b.bold
		}
		face := source.Face(op.FontSize)
		dc.SetFont(face)
		dc.SetColor(op.Color.Std())

		lines := []string{op.Text}
		if op.MaxWidth > 0 {
			wrapped := text.WrapText(op.Text, face, op.MaxWidth, text.WrapWordChar)
			lines = make([]string, len(wrapped))
			for i, l := range wrapped {
				lines[i] = l.Text
			}
		}
		for i, y := range lineCenters(op, len(lines)) {
			dc.DrawStringAnchored(lines[i], op.X, y, 0.5, 0.5)
		}
	}

	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}

// Close releases the font sources.
func (b *PNGBackend) Close() error {
	if err := b.regular.Close(); err != nil {
		return err
	}
	return b.bold.Close()
}

func drawAsset(dc *gg.Context, a *Asset, x, y, w, h float64) error {
	if a == nil {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(a.Data))
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", a.Key, err)
	}
	dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
		X:         x,
		Y:         y,
		DstWidth:  w,
		DstHeight: h,
		Opacity:   1,
	})
	return nil
}
