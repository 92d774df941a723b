package certificates

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Destination fields a row can be mapped onto.
const (
	FieldDocumentType   = "document_type"
	FieldDocumentNumber = "document_number"
	FieldGivenNames     = "given_names"
	FieldFamilyNames    = "family_names"
	FieldFullName       = "full_name"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldCourseName     = "course_name"
	FieldHours          = "hours"
	FieldModality       = "modality"
	FieldStartDate      = "start_date"
	FieldEndDate        = "end_date"
	FieldIssueDate      = "issue_date"
	FieldTitle          = "title"
	FieldBodyText       = "body_text"
)

// DestinationFields lists every known destination field. Each one is present
// in a mapped row, empty when not mapped.
var DestinationFields = []string{
	FieldDocumentType,
	FieldDocumentNumber,
	FieldGivenNames,
	FieldFamilyNames,
	FieldFullName,
	FieldEmail,
	FieldPhone,
	FieldCourseName,
	FieldHours,
	FieldModality,
	FieldStartDate,
	FieldEndDate,
	FieldIssueDate,
	FieldTitle,
	FieldBodyText,
}

// MapRow applies mapping (destination field -> source column) to row.
// Destinations mapped to custom names are kept as well.
func MapRow(row map[string]any, mapping map[string]string) map[string]string {
	fields := make(map[string]string, len(DestinationFields)+len(mapping))
	for _, name := range DestinationFields {
		fields[name] = ""
	}
	for dest, column := range mapping {
		dest = strings.TrimSpace(dest)
		if dest == "" {
			continue
		}
		fields[dest] = CellString(row[column])
	}
	return fields
}

// CellString renders a parsed spreadsheet cell as text. Whole numbers print
// without a decimal point so document numbers survive numeric cells.
func CellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case time.Time:
		return val.Format("2006-01-02")
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// Names are the name parts of a mapped row.
type Names struct {
	Given   string
	Family  string
	Literal string
}

// ParseNames reads the name fields. A row with only a full name is split on
// the first space into given and family names.
func ParseNames(fields map[string]string) Names {
	n := Names{
		Given:   strings.TrimSpace(fields[FieldGivenNames]),
		Family:  strings.TrimSpace(fields[FieldFamilyNames]),
		Literal: strings.TrimSpace(fields[FieldFullName]),
	}
	if n.Given == "" && n.Family == "" && n.Literal != "" {
		parts := strings.Fields(n.Literal)
		n.Given = parts[0]
		n.Family = strings.Join(parts[1:], " ")
	}
	return n
}

// Computed joins given and family names.
func (n Names) Computed() string {
	return strings.TrimSpace(n.Given + " " + n.Family)
}

// Present reports whether the row names a person.
func (n Names) Present() bool {
	return n.Computed() != "" || n.Literal != ""
}

// Override returns the literal full name when it differs from the computed
// one, nil otherwise.
func (n Names) Override() *string {
	if n.Literal == "" {
		return nil
	}
	if strings.Join(strings.Fields(n.Literal), " ") == n.Computed() {
		return nil
	}
	literal := n.Literal
	return &literal
}

// DisplayName picks the name printed on a certificate: the override, then the
// computed name, then the literal full name.
func DisplayName(override *string, fields map[string]string) string {
	if override != nil && strings.TrimSpace(*override) != "" {
		return *override
	}
	n := ParseNames(fields)
	if computed := n.Computed(); computed != "" {
		return computed
	}
	return n.Literal
}

// fieldRows converts a snapshot into rows ordered by field name.
func fieldRows(fields map[string]string) []CertificateField {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]CertificateField, 0, len(names))
	for _, name := range names {
		rows = append(rows, CertificateField{FieldName: name, FieldValue: fields[name]})
	}
	return rows
}
