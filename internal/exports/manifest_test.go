package exports

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "certifica/issuance-backend/pkg/errors"
)

func sampleRows() []ManifestRow {
	issued := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return []ManifestRow{
		{Code: "CERT-7-A1", Recipient: "Ana Ruiz", DocumentNumber: "1032", Course: "Go 101", Status: "active", IssuedAt: issued, FileURL: "https://cdn/a.pdf"},
		{Code: "CERT-7-B2", Recipient: "José Peña, Jr.", Course: "Go 101", Status: "revoked", IssuedAt: issued},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	f, err = ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("ods")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))
}

func TestCSVExport(t *testing.T) {
	var buf bytes.Buffer
	exp, err := NewExporter(FormatCSV)
	require.NoError(t, err)
	require.NoError(t, exp.Export(&buf, sampleRows()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ManifestColumns, records[0])
	assert.Equal(t, "José Peña, Jr.", records[2][1])
	assert.Equal(t, "", records[2][2])
	assert.Equal(t, "2025-03-14T09:30:00Z", records[1][5])
}

func TestExcelExport(t *testing.T) {
	var buf bytes.Buffer
	exp, err := NewExporter(FormatXLSX)
	require.NoError(t, err)
	require.NoError(t, exp.Export(&buf, sampleRows()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Certificates")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Code", rows[0][0])
	assert.Equal(t, "CERT-7-A1", rows[1][0])
	assert.Equal(t, "revoked", rows[2][4])
	assert.Equal(t, "https://cdn/a.pdf", rows[1][6])
}

func TestExcelExportEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExcelExporter(DefaultExcelOptions()).Export(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Certificates")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
