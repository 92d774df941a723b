package exports

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// CSVOptions configures CSV export behavior
type CSVOptions struct {
	Delimiter       rune
	UseCRLF         bool
	TimestampFormat string
}

// DefaultCSVOptions returns default CSV export options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:       ',',
		TimestampFormat: time.RFC3339,
	}
}

// CSVExporter writes a manifest as CSV with a header row.
type CSVExporter struct {
	options CSVOptions
}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter(options CSVOptions) *CSVExporter {
	return &CSVExporter{options: options}
}

// Export writes rows to w.
func (e *CSVExporter) Export(w io.Writer, rows []ManifestRow) error {
	writer := csv.NewWriter(w)
	writer.Comma = e.options.Delimiter
	writer.UseCRLF = e.options.UseCRLF

	if err := writer.Write(ManifestColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(ManifestColumns))
	for _, row := range rows {
		for i, val := range row.Values() {
			switch v := val.(type) {
			case time.Time:
				record[i] = v.UTC().Format(e.options.TimestampFormat)
			default:
				record[i] = fmt.Sprint(v)
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
