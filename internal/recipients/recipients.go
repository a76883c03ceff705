// Package recipients loads the recipient table from an uploaded spreadsheet.
//
// The table must carry a header row with Name and Email columns (exact,
// case-sensitive); Company is optional. Rows without an email address are
// dropped silently, everything else is kept in row order.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	ColumnName    = "Name"
	ColumnEmail   = "Email"
	ColumnCompany = "Company"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("invalid recipient table")

type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type Record struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
}

// Table is the ordered result of a load. Position is the only identity;
// duplicate addresses are kept.
type Table struct {
	records []Record
}

func NewTable(records ...Record) Table {
	return Table{records: append([]Record(nil), records...)}
}

func (t Table) Len() int {
	return len(t.records)
}

// Records returns a copy so callers cannot mutate the loaded table.
func (t Table) Records() []Record {
	return append([]Record(nil), t.records...)
}

// Load parses an .xlsx or .csv upload. The filename only selects the format.
func Load(r io.Reader, filename string) (Table, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".xlsx":
		rows, err = readWorkbook(r)
	case ".csv":
		rows, err = readCSV(r)
	default:
		return Table{}, &ValidationError{Reason: fmt.Sprintf("unsupported file type %q; upload an .xlsx or .csv file", ext)}
	}
	if err != nil {
		return Table{}, &ValidationError{Reason: "unable to read recipient file", Err: err}
	}
	return fromRows(rows)
}

func readWorkbook(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

func fromRows(rows [][]string) (Table, error) {
	if len(rows) == 0 {
		return Table{}, &ValidationError{Reason: "missing required columns"}
	}

	columns := map[string]int{}
	for i, header := range rows[0] {
		header = strings.TrimPrefix(header, "\ufeff")
		if _, seen := columns[header]; !seen {
			columns[header] = i
		}
	}
	nameIdx, hasName := columns[ColumnName]
	emailIdx, hasEmail := columns[ColumnEmail]
	if !hasName || !hasEmail {
		return Table{}, &ValidationError{Reason: "missing required columns"}
	}
	companyIdx, hasCompany := columns[ColumnCompany]
	if !hasCompany {
		companyIdx = -1
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		email := strings.TrimSpace(cell(row, emailIdx))
		if email == "" {
			continue
		}
		records = append(records, Record{
			Name:    cell(row, nameIdx),
			Email:   email,
			Company: cell(row, companyIdx),
		})
	}
	return Table{records: records}, nil
}

// cell tolerates the ragged rows excelize returns for trailing blank cells.
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
