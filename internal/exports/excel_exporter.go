package exports

import (
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	SheetName    string
	FreezeHeader bool
	AutoFilter   bool
	HeaderFill   string
	HeaderFont   string
	MinWidth     float64
	MaxWidth     float64
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:    "Certificates",
		FreezeHeader: true,
		AutoFilter:   true,
		HeaderFill:   "4472C4",
		HeaderFont:   "FFFFFF",
		MinWidth:     10,
		MaxWidth:     50,
	}
}

// ExcelExporter writes a manifest as a single-sheet workbook.
type ExcelExporter struct {
	options ExcelOptions
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	return &ExcelExporter{options: options}
}

// Export writes rows to w as XLSX.
func (e *ExcelExporter) Export(w io.Writer, rows []ManifestRow) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := e.options.SheetName
	if err := file.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: e.options.HeaderFont},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{e.options.HeaderFill}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	dateStyle, err := file.NewStyle(&excelize.Style{NumFmt: 22}) // m/d/yy h:mm
	if err != nil {
		return fmt.Errorf("failed to create date style: %w", err)
	}

	widths := make([]float64, len(ManifestColumns))
	for i, col := range ManifestColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := file.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		widths[i] = estimateWidth(col)
	}
	first, _ := excelize.CoordinatesToCellName(1, 1)
	last, _ := excelize.CoordinatesToCellName(len(ManifestColumns), 1)
	if err := file.SetCellStyle(sheet, first, last, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for r, row := range rows {
		for c, val := range row.Values() {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if ts, ok := val.(time.Time); ok {
				if err := file.SetCellValue(sheet, cell, ts); err != nil {
					return fmt.Errorf("failed to write %s: %w", cell, err)
				}
				file.SetCellStyle(sheet, cell, cell, dateStyle)
				continue
			}
			s := fmt.Sprint(val)
			if err := file.SetCellStr(sheet, cell, s); err != nil {
				return fmt.Errorf("failed to write %s: %w", cell, err)
			}
			if w := estimateWidth(s); w > widths[c] {
				widths[c] = w
			}
		}
	}

	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		width = max(e.options.MinWidth, min(width, e.options.MaxWidth))
		file.SetColWidth(sheet, col, col, width)
	}

	if e.options.FreezeHeader {
		file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	if e.options.AutoFilter && len(rows) > 0 {
		file.AutoFilter(sheet, first+":"+last, nil)
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// estimateWidth is a rough display width: one unit per character plus padding.
func estimateWidth(s string) float64 {
	return float64(utf8.RuneCountInString(s)) * 1.2
}
