package render

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

// EmbeddedFontFamily selects the Go fonts, embedded as UTF-8 TrueType so any
// recipient name prints. Other families are PDF core fonts limited to cp1252.
const EmbeddedFontFamily = "Go"

// PDFOptions configures the PDF backend.
type PDFOptions struct {
	FontFamily   string    `json:"font_family"`
	Creator      string    `json:"creator"`
	CreationDate time.Time `json:"creation_date"`
	Compress     bool      `json:"compress"`
}

// DefaultPDFOptions returns default PDF options. The creation date is fixed so
// rendering the same plan twice yields the same bytes.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		FontFamily:   EmbeddedFontFamily,
		Creator:      "issuance-backend",
		CreationDate: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Compress:     true,
	}
}

// PDFBackend draws plans with gofpdf. One template pixel is one PDF point.
type PDFBackend struct {
	options PDFOptions
}

// NewPDFBackend creates a PDF backend.
func NewPDFBackend(options PDFOptions) *PDFBackend {
	if options.FontFamily == "" {
		options.FontFamily = EmbeddedFontFamily
	}
	return &PDFBackend{options: options}
}

func (b *PDFBackend) Format() string { return "pdf" }

func (b *PDFBackend) Draw(plan *Plan, w io.Writer) error {
	// "P" with an explicit size keeps gofpdf from swapping width and height.
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(plan.Width), Ht: float64(plan.Height)},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCompression(b.options.Compress)
	pdf.SetCreator(b.options.Creator, true)
	pdf.SetCreationDate(b.options.CreationDate)
	pdf.SetCatalogSort(true)
	pdf.AddPage()

	embedded := b.options.FontFamily == EmbeddedFontFamily
	tr := func(s string) string { return s }
	if !embedded {
		tr = pdf.UnicodeTranslatorFromDescriptor("")
	}

	b.drawImage(pdf, plan.Background, 0, 0, float64(plan.Width), float64(plan.Height))
	for _, img := range plan.Images {
		b.drawImage(pdf, img.Asset, img.X, img.Y, img.Width, img.Height)
	}

	for _, line := range plan.Lines {
		pdf.SetDrawColor(int(line.Color.R), int(line.Color.G), int(line.Color.B))
		pdf.SetLineWidth(line.Width)
		pdf.Line(line.X1, line.Y1, line.X2, line.Y2)
	}

	for _, op := range plan.Texts {
		style := ""
		if op.Bold {
			style = "B"
		}
		if embedded {
			// only faces that are used get embedded
			pdf.AddUTF8FontFromBytes(EmbeddedFontFamily, style, goFontTTF(style))
		}
		pdf.SetFont(b.options.FontFamily, style, op.FontSize)
		pdf.SetTextColor(int(op.Color.R), int(op.Color.G), int(op.Color.B))

		lines := []string{tr(op.Text)}
		if op.MaxWidth > 0 {
			lines = wrapPDF(pdf, tr, op.Text, op.MaxWidth)
		}
		for i, y := range lineCenters(op, len(lines)) {
			width := pdf.GetStringWidth(lines[i])
			// Cap height is roughly 0.7 of the size; shift the baseline so
			// the line is centered on y.
			pdf.Text(op.X-width/2, y+op.FontSize*0.35, lines[i])
		}
	}

	if pdf.Err() {
		return fmt.Errorf("failed to compose PDF: %w", pdf.Error())
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	return nil
}

func (b *PDFBackend) drawImage(pdf *gofpdf.Fpdf, a *Asset, x, y, w, h float64) {
	if a == nil {
		return
	}
	opts := gofpdf.ImageOptions{ImageType: pdfImageType(a.Format)}
	if pdf.GetImageInfo(a.Key) == nil {
		pdf.RegisterImageOptionsReader(a.Key, opts, bytes.NewReader(a.Data))
	}
	pdf.ImageOptions(a.Key, x, y, w, h, false, opts, 0, "")
}

func goFontTTF(style string) []byte {
	if style == "B" {
		return gobold.TTF
	}
	return goregular.TTF
}

func pdfImageType(format string) string {
	switch format {
	case "jpeg":
		return "JPG"
	case "gif":
		return "GIF"
	default:
		return "PNG"
	}
}

// wrapPDF breaks text on spaces into lines no wider than maxWidth in the
// current font. A single word wider than maxWidth gets its own line.
func wrapPDF(pdf *gofpdf.Fpdf, tr func(string) string, text string, maxWidth float64) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := tr(words[0])
		for _, word := range words[1:] {
			candidate := current + " " + tr(word)
			if pdf.GetStringWidth(candidate) > maxWidth {
				lines = append(lines, current)
				current = tr(word)
				continue
			}
			current = candidate
		}
		lines = append(lines, current)
	}
	return lines
}
