package document

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// Column headers, matched case-insensitively on the first row of the first sheet
const (
	colDate     = "date"
	colResource = "resource"
	colHours    = "hours"
	colRole     = "role"
	colRate     = "rate"
	colCurrency = "currency"
)

var maxDailyHours = decimal.NewFromInt(24)

// SpreadsheetValidator implements port.SpreadsheetValidator with excelize
type SpreadsheetValidator struct {
	logger *zap.Logger
}

// NewSpreadsheetValidator creates a new spreadsheet validator
func NewSpreadsheetValidator(logger *zap.Logger) *SpreadsheetValidator {
	return &SpreadsheetValidator{logger: logger}
}

// Validate checks the workbook at path. Structural problems go into the
// report; only an unreadable file is an error.
func (v *SpreadsheetValidator) Validate(ctx context.Context, kind entity.DocumentKind, path string) (*entity.ValidationReport, error) {
	if !kind.IsSpreadsheet() {
		return nil, fmt.Errorf("document kind %s is not a spreadsheet", kind)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &entity.ValidationReport{
		Errors:   []string{},
		Warnings: []string{},
		Data:     map[string]interface{}{"sheet": sheets[0]},
	}

	switch kind {
	case entity.DocumentTimesheet:
		validateTimesheet(rows, report)
	case entity.DocumentRateCard:
		validateRateCard(rows, report)
	}
	report.IsValid = len(report.Errors) == 0

	v.logger.Info("Spreadsheet validated",
		zap.String("kind", string(kind)),
		zap.Bool("valid", report.IsValid),
		zap.Int("errors", len(report.Errors)),
		zap.Int("warnings", len(report.Warnings)))
	return report, nil
}

// table is a sheet split into a header index and data rows
type table struct {
	columns map[string]int
	rows    [][]string
	// first data row number as shown in the spreadsheet
	firstRow int
}

func readTable(rows [][]string, report *entity.ValidationReport, required ...string) (*table, bool) {
	headerAt := -1
	for i, row := range rows {
		if !blank(row) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		report.Errors = append(report.Errors, "sheet is empty")
		return nil, false
	}

	t := &table{columns: make(map[string]int), firstRow: headerAt + 2}
	for i, name := range rows[headerAt] {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := t.columns[key]; !dup && key != "" {
			t.columns[key] = i
		}
	}

	ok := true
	for _, col := range required {
		if _, found := t.columns[col]; !found {
			report.Errors = append(report.Errors, fmt.Sprintf("missing column %q", col))
			ok = false
		}
	}
	if !ok {
		return nil, false
	}

	t.rows = rows[headerAt+1:]
	return t, true
}

func (t *table) cell(row []string, col string) string {
	i := t.columns[col]
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func validateTimesheet(rows [][]string, report *entity.ValidationReport) {
	t, ok := readTable(rows, report, colDate, colResource, colHours)
	if !ok {
		return
	}

	total := decimal.Zero
	resources := make(map[string]struct{})
	entries := 0

	for i, row := range t.rows {
		if blank(row) {
			continue
		}
		line := t.firstRow + i
		entries++

		if t.cell(row, colDate) == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: date is empty", line))
		}
		if r := t.cell(row, colResource); r == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: resource is empty", line))
		} else {
			resources[r] = struct{}{}
		}

		raw := t.cell(row, colHours)
		hours, err := decimal.NewFromString(raw)
		switch {
		case err != nil:
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: hours %q is not a number", line, raw))
		case hours.IsNegative() || hours.GreaterThan(maxDailyHours):
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: hours %s outside 0-24", line, hours))
		default:
			total = total.Add(hours)
		}
	}

	if entries == 0 {
		report.Errors = append(report.Errors, "timesheet has no entries")
	}
	report.Data["entries"] = entries
	report.Data["resources"] = len(resources)
	report.Data["total_hours"] = total.String()
}

func validateRateCard(rows [][]string, report *entity.ValidationReport) {
	t, ok := readTable(rows, report, colRole, colRate, colCurrency)
	if !ok {
		return
	}

	seen := make(map[string]int)
	currencies := make(map[string]struct{})
	entries := 0

	for i, row := range t.rows {
		if blank(row) {
			continue
		}
		line := t.firstRow + i
		entries++

		role := t.cell(row, colRole)
		if role == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: role is empty", line))
		} else {
			key := strings.ToLower(role)
			if first, dup := seen[key]; dup {
				report.Warnings = append(report.Warnings, fmt.Sprintf("row %d: role %q already listed on row %d", line, role, first))
			} else {
				seen[key] = line
			}
		}

		raw := t.cell(row, colRate)
		rate, err := decimal.NewFromString(raw)
		switch {
		case err != nil:
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: rate %q is not a number", line, raw))
		case !rate.IsPositive():
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: rate must be greater than 0", line))
		}

		if c := strings.ToUpper(t.cell(row, colCurrency)); c == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: currency is empty", line))
		} else {
			currencies[c] = struct{}{}
		}
	}

	if entries == 0 {
		report.Errors = append(report.Errors, "rate card has no entries")
	}
	if len(currencies) > 1 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("rate card mixes %d currencies", len(currencies)))
	}
	report.Data["entries"] = entries
	report.Data["roles"] = len(seen)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Verify interface compliance
var _ port.SpreadsheetValidator = (*SpreadsheetValidator)(nil)
