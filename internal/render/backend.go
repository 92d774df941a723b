package render

import (
	"fmt"
	"io"
	"strings"
)

// Backend draws a Plan into an encoded document.
type Backend interface {
	// Format is the output file extension: "pdf" or "png".
	Format() string
	Draw(plan *Plan, w io.Writer) error
}

// NewBackend returns the backend for format.
func NewBackend(format string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "pdf":
		return NewPDFBackend(DefaultPDFOptions()), nil
	case "png":
		b, err := NewPNGBackend()
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported render format: %s", format)
	}
}

// lineCenters returns the vertical centers of the lines of a text block laid
// out around op.Y.
func lineCenters(op TextOp, lines int) []float64 {
	spacing := op.LineSpacing
	if spacing <= 0 {
		spacing = 1
	}
	lineHeight := op.FontSize * spacing
	top := op.Y - lineHeight*float64(lines)/2
	centers := make([]float64, lines)
	for i := range centers {
		centers[i] = top + lineHeight*(float64(i)+0.5)
	}
	return centers
}
