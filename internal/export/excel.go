// Package export reads practice-management spreadsheet exports into claim
// lines. The export has no header or trailer, so no integrity report exists
// for it.
package export

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/gyeh/claimcheck/internal/claims"
)

// Export columns.
const (
	ColumnSurname   = "PatientAchterNaam"
	ColumnPatient   = "PatientInfo"
	ColumnBirthDate = "GeboorteDatum"
	ColumnDate      = "Datum"
	ColumnCode      = "code"
	ColumnElement   = "Elementen"
	ColumnFee       = "Honorarium"
	ColumnTechnique = "Techniek"
	ColumnAmount    = "bedrag"
)

// Columns lists the columns ReadClaimLines requires.
var Columns = []string{
	ColumnSurname, ColumnPatient, ColumnBirthDate, ColumnDate, ColumnCode,
	ColumnElement, ColumnFee, ColumnTechnique, ColumnAmount,
}

var (
	ErrNoSheet       = errors.New("no sheets found in workbook")
	ErrMissingColumn = errors.New("missing column")
)

var dateLayouts = []string{"2006-01-02", "02-01-2006", "20060102", "2006-01-02 15:04:05", "02/01/2006"}

// ReadClaimLines reads the first sheet of an .xlsx export. The first row is
// the header. Each non-empty data row yields one claim line with quantity 1.
// Unparsable dates and amounts become nil and are returned as warnings.
func ReadClaimLines(r io.Reader) ([]claims.ClaimLine, []*claims.CoercionError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, nil, ErrNoSheet
	}

	// Raw values keep dates as serial numbers instead of locale formatting.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, nil, fmt.Errorf("read rows of %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("sheet %s: %w %q", sheet, ErrMissingColumn, ColumnPatient)
	}

	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		idx[strings.TrimSpace(h)] = i
	}
	for _, c := range Columns {
		if _, ok := idx[c]; !ok {
			return nil, nil, fmt.Errorf("sheet %s: %w %q", sheet, ErrMissingColumn, c)
		}
	}

	var out []claims.ClaimLine
	var warns []*claims.CoercionError
	for n, row := range rows[1:] {
		if blank(row) {
			continue
		}
		line := n + 2 // 1-based, after the header
		cell := func(col string) string {
			i := idx[col]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		c := coercer{line: line, warns: &warns}

		cl := claims.ClaimLine{
			Line:            line,
			Subject:         cell(ColumnPatient),
			BirthDate:       c.date(ColumnBirthDate, cell(ColumnBirthDate)),
			Surname:         optional(cell(ColumnSurname)),
			ServiceDate:     c.date(ColumnDate, cell(ColumnDate)),
			ServiceCode:     cell(ColumnCode),
			ElementCode:     optional(cell(ColumnElement)),
			Quantity:        1,
			DeclaredAmount:  c.amount(ColumnAmount, cell(ColumnAmount)),
			FeeAmount:       c.amount(ColumnFee, cell(ColumnFee)),
			TechniqueAmount: c.amount(ColumnTechnique, cell(ColumnTechnique)),
		}
		cl.Age = claims.AgeAt(cl.BirthDate, cl.ServiceDate)
		out = append(out, cl)
	}
	return out, warns, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type coercer struct {
	line  int
	warns *[]*claims.CoercionError
}

func (c coercer) warn(field, value string) {
	*c.warns = append(*c.warns, &claims.CoercionError{Line: c.line, Field: field, Value: value})
}

func (c coercer) date(field, value string) *time.Time {
	if value == "" {
		return nil
	}
	if t, ok := parseDate(value); ok {
		return &t
	}
	c.warn(field, value)
	return nil
}

func (c coercer) amount(field, value string) *claims.Amount {
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.Replace(value, ",", ".", 1), 64)
	if err != nil {
		c.warn(field, value)
		return nil
	}
	a := claims.AmountFromEuros(f)
	return &a
}

// parseDate accepts Excel serial day numbers and common textual layouts.
func parseDate(v string) (time.Time, bool) {
	if serial, err := strconv.ParseFloat(v, 64); err == nil && len(v) != 8 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
