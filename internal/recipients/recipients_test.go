package recipients

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows ...[]any) *bytes.Buffer {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestLoad_DropsRowsWithoutEmail(t *testing.T) {
	t.Parallel()

	buf := workbook(t,
		[]any{"Name", "Email", "Company"},
		[]any{"Alice", "a@x.com", "Acme"},
		[]any{"Bob", "", ""},
		[]any{"Cara", "c@x.com", ""},
	)

	table, err := Load(buf, "list.xlsx")
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	require.Equal(t, []Record{
		{Name: "Alice", Email: "a@x.com", Company: "Acme"},
		{Name: "Cara", Email: "c@x.com", Company: ""},
	}, table.Records())
}

func TestLoad_MissingCompanyColumnDefaultsToEmpty(t *testing.T) {
	t.Parallel()

	buf := workbook(t,
		[]any{"Email", "Name", "Notes"},
		[]any{"a@x.com", "Alice", "vip"},
		[]any{"b@x.com", "Bob", ""},
	)

	table, err := Load(buf, "LIST.XLSX")
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	for _, rec := range table.Records() {
		require.Empty(t, rec.Company)
	}
	require.Equal(t, "Alice", table.Records()[0].Name)
}

func TestLoad_MissingRequiredColumns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header []any
	}{
		{"no name", []any{"Email", "Company"}},
		{"no email", []any{"Name", "Company"}},
		{"wrong case", []any{"name", "email"}},
		{"padded header", []any{"Name ", "Email"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			buf := workbook(t, tc.header, []any{"x", "y"})
			table, err := Load(buf, "list.xlsx")
			require.Error(t, err)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, "missing required columns", verr.Error())
			require.Zero(t, table.Len())
		})
	}
}

func TestLoad_HeadersMatchExactly(t *testing.T) {
	t.Parallel()

	_, err := Load(strings.NewReader("Name, Email\nAlice,a@x.com\n"), "list.csv")
	require.ErrorIs(t, err, ErrValidation)

	table, err := Load(strings.NewReader("\ufeffName,Email\nAlice,a@x.com\n"), "list.csv")
	require.NoError(t, err)
	require.Equal(t, []Record{{Name: "Alice", Email: "a@x.com"}}, table.Records())
}

func TestLoad_KeepsEmptyNamesAndDuplicates(t *testing.T) {
	t.Parallel()

	input := "Name,Email\n,a@x.com\nAlice,a@x.com\n"
	table, err := Load(strings.NewReader(input), "list.csv")
	require.NoError(t, err)
	require.Equal(t, []Record{
		{Name: "", Email: "a@x.com"},
		{Name: "Alice", Email: "a@x.com"},
	}, table.Records())
}

func TestLoad_RaggedRowsAndWhitespaceEmail(t *testing.T) {
	t.Parallel()

	input := "Name,Company,Email\nAlice,Acme\nBob,Initech,   \nCara,,c@x.com\n"
	table, err := Load(strings.NewReader(input), "list.csv")
	require.NoError(t, err)
	require.Equal(t, []Record{{Name: "Cara", Email: "c@x.com"}}, table.Records())
}

func TestLoad_UnsupportedFile(t *testing.T) {
	t.Parallel()

	_, err := Load(strings.NewReader("Name,Email"), "list.txt")
	require.ErrorIs(t, err, ErrValidation)

	_, err = Load(strings.NewReader("not a workbook"), "list.xlsx")
	require.ErrorIs(t, err, ErrValidation)
}

func TestLoad_EmptyFile(t *testing.T) {
	t.Parallel()

	_, err := Load(strings.NewReader(""), "list.csv")
	require.ErrorIs(t, err, ErrValidation)
}

func TestTable_RecordsIsACopy(t *testing.T) {
	t.Parallel()

	table := NewTable(Record{Name: "Alice", Email: "a@x.com"})
	records := table.Records()
	records[0].Name = "Mallory"
	require.Equal(t, "Alice", table.Records()[0].Name)
}
