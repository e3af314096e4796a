package export

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/gyeh/claimcheck/internal/claims"
)

// workbook builds an .xlsx in memory with the given header and rows.
func workbook(t *testing.T, header []string, rows ...[]any) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	hdr := make([]any, len(header))
	for i, h := range header {
		hdr[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &hdr); err != nil {
		t.Fatal(err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestReadClaimLines(t *testing.T) {
	r := workbook(t, Columns,
		[]any{"Jansen", "P-001", "2010-05-01", 45306, "V30", "", 21.5, 0, 21.5},
		[]any{"Bakker", "P-002", "01-01-1980", "20240116", "P045", "11", 30, 0, -10},
		[]any{nil, nil, nil, nil, nil, nil, nil, nil, nil},
		[]any{"Smit", "P-003", "onbekend", "2024-01-17", "C001", "", "gratis", "", ""},
	)
	rows, warns, err := ReadClaimLines(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Subject != "P-001" || first.ServiceCode != "V30" || first.Quantity != 1 || first.Line != 2 {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.ServiceDate == nil || first.ServiceDate.Format("2006-01-02") != "2024-01-15" {
		t.Errorf("serial date not converted: %v", first.ServiceDate)
	}
	if first.Age == nil || *first.Age != 13 {
		t.Errorf("unexpected age %v", first.Age)
	}
	if first.ElementCode != nil {
		t.Errorf("empty element should be nil, got %q", *first.ElementCode)
	}
	if first.InsurerCode != nil || first.InsurerName != nil {
		t.Error("exports carry no insurer")
	}
	if diff := cmp.Diff(claims.Ptr(claims.Amount(2150)), first.FeeAmount); diff != "" {
		t.Errorf("fee differs: %s", diff)
	}

	second := rows[1]
	if second.BirthDate == nil || second.BirthDate.Format("2006-01-02") != "1980-01-01" {
		t.Errorf("DD-MM-YYYY birth date not parsed: %v", second.BirthDate)
	}
	if second.ServiceDate == nil || second.ServiceDate.Format("2006-01-02") != "2024-01-16" {
		t.Errorf("YYYYMMDD service date not parsed: %v", second.ServiceDate)
	}
	if second.DeclaredAmount == nil || *second.DeclaredAmount != -1000 {
		t.Errorf("expected declared -10.00, got %v", second.DeclaredAmount)
	}
	if second.ElementCode == nil || *second.ElementCode != "11" {
		t.Errorf("unexpected element %v", second.ElementCode)
	}

	third := rows[2]
	if third.Line != 5 || third.BirthDate != nil || third.Age != nil || third.FeeAmount != nil {
		t.Errorf("unexpected third row: %+v", third)
	}
	var fields []string
	for _, w := range warns {
		fields = append(fields, w.Field)
	}
	if diff := cmp.Diff([]string{ColumnBirthDate, ColumnFee}, fields); diff != "" {
		t.Errorf("warnings differ (-want +got):\n%s", diff)
	}
}

func TestReadClaimLines_MissingColumn(t *testing.T) {
	r := workbook(t, []string{ColumnPatient, ColumnCode}, []any{"P-001", "V30"})
	if _, _, err := ReadClaimLines(r); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("expected ErrMissingColumn, got %v", err)
	}
}

func TestReadClaimLines_NotAWorkbook(t *testing.T) {
	if _, _, err := ReadClaimLines(bytes.NewReader([]byte("01 not a workbook"))); err == nil {
		t.Error("expected error for non-xlsx input")
	}
}
