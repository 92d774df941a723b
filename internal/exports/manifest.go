// Package exports writes lot manifests: one row per issued certificate.
package exports

import (
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "certifica/issuance-backend/pkg/errors"
)

// Format is a manifest file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ManifestColumns is the header row shared by every format.
var ManifestColumns = []string{"Code", "Recipient", "Document Number", "Course", "Status", "Issued At", "File URL"}

// ManifestRow describes one certificate of a lot.
type ManifestRow struct {
	Code           string
	Recipient      string
	DocumentNumber string
	Course         string
	Status         string
	IssuedAt       time.Time
	FileURL        string
}

// Values returns the row in ManifestColumns order.
func (r ManifestRow) Values() []any {
	return []any{r.Code, r.Recipient, r.DocumentNumber, r.Course, r.Status, r.IssuedAt, r.FileURL}
}

// Exporter writes manifest rows in one format.
type Exporter interface {
	Export(w io.Writer, rows []ManifestRow) error
}

// ParseFormat accepts "xlsx" or "csv", case-insensitively. Empty means xlsx.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", apperrors.New(apperrors.CodeInvalidInput, "unsupported manifest format %q", s)
}

// ContentType is the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// NewExporter returns the default exporter for f.
func NewExporter(f Format) (Exporter, error) {
	switch f {
	case FormatXLSX:
		return NewExcelExporter(DefaultExcelOptions()), nil
	case FormatCSV:
		return NewCSVExporter(DefaultCSVOptions()), nil
	}
	return nil, fmt.Errorf("unsupported manifest format %q", f)
}
