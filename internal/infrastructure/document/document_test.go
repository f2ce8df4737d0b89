package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// writeWorkbook saves rows to the first sheet of a new workbook
func writeWorkbook(t *testing.T, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}

	path := filepath.Join(t.TempDir(), "upload.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestSpreadsheetValidator_Timesheet(t *testing.T) {
	tests := []struct {
		name       string
		rows       [][]interface{}
		wantValid  bool
		wantErrors []string
		wantTotal  string
	}{
		{
			name: "valid",
			rows: [][]interface{}{
				{"Date", "Resource", "Hours"},
				{"2024-05-01", "Ana", 8},
				{"2024-05-02", "Ana", 7.5},
				{},
				{"2024-05-02", "Ben", 4},
			},
			wantValid:  true,
			wantErrors: []string{},
			wantTotal:  "19.5",
		},
		{
			name: "header case and order",
			rows: [][]interface{}{
				{" hours ", "RESOURCE", "date"},
				{6, "Ana", "2024-05-01"},
			},
			wantValid:  true,
			wantErrors: []string{},
			wantTotal:  "6",
		},
		{
			name: "bad hours",
			rows: [][]interface{}{
				{"Date", "Resource", "Hours"},
				{"2024-05-01", "Ana", 25},
				{"2024-05-02", "", "lots"},
				{"", "Ben", -1},
				{"2024-05-04", "Ben", 3},
			},
			wantErrors: []string{
				"row 2: hours 25 outside 0-24",
				"row 3: resource is empty",
				`row 3: hours "lots" is not a number`,
				"row 4: date is empty",
				"row 4: hours -1 outside 0-24",
			},
			wantTotal: "3",
		},
		{
			name:       "missing column",
			rows:       [][]interface{}{{"Date", "Name", "Hours"}, {"2024-05-01", "Ana", 8}},
			wantErrors: []string{`missing column "resource"`},
		},
		{
			name:       "no entries",
			rows:       [][]interface{}{{"Date", "Resource", "Hours"}},
			wantErrors: []string{"timesheet has no entries"},
			wantTotal:  "0",
		},
	}

	v := NewSpreadsheetValidator(zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := v.Validate(context.Background(), entity.DocumentTimesheet, writeWorkbook(t, tt.rows))
			require.NoError(t, err)

			assert.Equal(t, tt.wantValid, report.IsValid)
			assert.Equal(t, tt.wantErrors, report.Errors)
			if tt.wantTotal != "" {
				assert.Equal(t, tt.wantTotal, report.Data["total_hours"])
			}
		})
	}
}

func TestSpreadsheetValidator_RateCard(t *testing.T) {
	v := NewSpreadsheetValidator(zap.NewNop())

	path := writeWorkbook(t, [][]interface{}{
		{"Role", "Rate", "Currency"},
		{"Engineer", 120, "eur"},
		{"Analyst", 95.5, "EUR"},
		{"engineer", 130, "EUR"},
	})
	report, err := v.Validate(context.Background(), entity.DocumentRateCard, path)
	require.NoError(t, err)

	assert.True(t, report.IsValid)
	assert.Empty(t, report.Errors)
	assert.Equal(t, []string{`row 4: role "engineer" already listed on row 2`}, report.Warnings)
	assert.Equal(t, 3, report.Data["entries"])
	assert.Equal(t, 2, report.Data["roles"])

	path = writeWorkbook(t, [][]interface{}{
		{"Role", "Rate", "Currency"},
		{"Engineer", 0, "EUR"},
		{"Analyst", "n/a", ""},
		{"Manager", 150, "USD"},
	})
	report, err = v.Validate(context.Background(), entity.DocumentRateCard, path)
	require.NoError(t, err)

	assert.False(t, report.IsValid)
	assert.Equal(t, []string{
		"row 2: rate must be greater than 0",
		`row 3: rate "n/a" is not a number`,
		"row 3: currency is empty",
	}, report.Errors)
	assert.Equal(t, []string{"rate card mixes 2 currencies"}, report.Warnings)
}

func TestSpreadsheetValidator_Errors(t *testing.T) {
	v := NewSpreadsheetValidator(zap.NewNop())

	_, err := v.Validate(context.Background(), entity.DocumentSourceInvoice, "x.xlsx")
	assert.Error(t, err)

	notWorkbook := filepath.Join(t.TempDir(), "fake.xlsx")
	require.NoError(t, os.WriteFile(notWorkbook, []byte("not a zip"), 0o644))
	_, err = v.Validate(context.Background(), entity.DocumentTimesheet, notWorkbook)
	assert.ErrorContains(t, err, "failed to open workbook")
}

func TestPDFTextExtractor_Rejects(t *testing.T) {
	e := NewPDFTextExtractor(0, zap.NewNop())
	assert.Equal(t, defaultMaxPages, e.maxPages)

	_, err := e.ExtractText(context.Background(), "invoice.docx")
	assert.ErrorContains(t, err, "unsupported file type")

	_, err = e.ExtractText(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.ErrorContains(t, err, "PDF file not found")
}
