package mz301

import (
	"errors"
	"strings"
	"testing"
)

func readTestBatch(t *testing.T, data string) *Batch {
	t.Helper()
	b, err := ReadBatch(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCheckBatch_AllMatch(t *testing.T) {
	b := readTestBatch(t, buildFile(t, 3, 5, 2))
	report, err := CheckBatch(b)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Fatalf("expected all categories to match, got %+v", report.Counts)
	}
	if len(report.Discrepancies) != 0 {
		t.Errorf("expected no discrepancies, got %v", report.Discrepancies)
	}
	detail, _ := report.Count(CategoryDetailRecords)
	if detail.Actual != 3*2+5+2 || *detail.Expected != 13 {
		t.Errorf("unexpected detail check: %+v", detail)
	}
	if report.PeriodStart == nil || report.PeriodStart.Format("20060102") != "20240101" {
		t.Errorf("unexpected period start %v", report.PeriodStart)
	}
	if report.PeriodEnd == nil || report.PeriodEnd.Format("20060102") != "20240131" {
		t.Errorf("unexpected period end %v", report.PeriodEnd)
	}
	if !report.Totals.Match || report.Totals.SummedCents != 5*2500 {
		t.Errorf("unexpected totals: %+v", report.Totals)
	}
}

// Mutating one collection by ±1 flips exactly that category's flag, plus the
// detail total which is derived from all three.
func TestCheck_SingleCategoryFlips(t *testing.T) {
	b := readTestBatch(t, buildFile(t, 3, 5, 2))
	header, trailer := b.Headers[0], b.Trailers[0]

	drop := func(rs []Record) []Record { return rs[:len(rs)-1] }
	grow := func(rs []Record) []Record { return append(append([]Record{}, rs...), rs[0]) }

	cases := []struct {
		name     string
		persons  []Record
		services []Record
		comments []Record
		flipped  Category
	}{
		{"persons-1", drop(b.InsuredPersons), b.ServiceLines, b.Comments, CategoryInsuredPersons},
		{"persons+1", grow(b.InsuredPersons), b.ServiceLines, b.Comments, CategoryInsuredPersons},
		{"services-1", b.InsuredPersons, drop(b.ServiceLines), b.Comments, CategoryServiceLines},
		{"services+1", b.InsuredPersons, grow(b.ServiceLines), b.Comments, CategoryServiceLines},
		{"comments-1", b.InsuredPersons, b.ServiceLines, drop(b.Comments), CategoryComments},
		{"comments+1", b.InsuredPersons, b.ServiceLines, grow(b.Comments), CategoryComments},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := Check(header, trailer, tc.persons, tc.services, tc.comments)
			for _, cc := range report.Counts {
				wantMatch := cc.Category != tc.flipped && cc.Category != CategoryDetailRecords
				if cc.Match != wantMatch {
					t.Errorf("%s: expected match=%v, got %+v", cc.Category, wantMatch, cc)
				}
			}
		})
	}
}

func TestCheck_InsuredPersonsCountDouble(t *testing.T) {
	b := readTestBatch(t, buildFile(t, 2, 1, 0))
	trailer := NewRecord(TypeTrailer, map[string]string{
		FieldInsuredCount: "000002",
		FieldServiceCount: "000001",
		FieldCommentCount: "000000",
		FieldDetailCount:  "0000003", // single-counted persons: wrong
	})
	report := Check(b.Headers[0], trailer, b.InsuredPersons, b.ServiceLines, b.Comments)
	detail, _ := report.Count(CategoryDetailRecords)
	if detail.Match || detail.Actual != 5 {
		t.Errorf("expected detail mismatch with actual 5, got %+v", detail)
	}
	if len(report.Discrepancies) != 1 || !strings.Contains(report.Discrepancies[0], "detail_records") {
		t.Errorf("expected one detail discrepancy, got %v", report.Discrepancies)
	}
}

func TestCheck_UnparsableDeclaredCount(t *testing.T) {
	trailer := NewRecord(TypeTrailer, map[string]string{FieldInsuredCount: "abc"})
	report := Check(NewRecord(TypeHeader, nil), trailer, nil, nil, nil)
	cc, _ := report.Count(CategoryInsuredPersons)
	if cc.Expected != nil || cc.Match {
		t.Errorf("expected nil expected and no match, got %+v", cc)
	}
	if report.PeriodStart != nil || report.PeriodEnd != nil {
		t.Error("expected nil period for empty header dates")
	}
}

func TestCheckBatch_TotalsSignedByIndicator(t *testing.T) {
	lines := []string{
		encodeLine(t, TypeHeader, nil),
		encodeLine(t, TypeServiceLine, map[string]string{FieldDeclaredAmount: "00001000", FieldDeclaredDebitCredit: "D"}),
		encodeLine(t, TypeServiceLine, map[string]string{FieldDeclaredAmount: "00000400", FieldDeclaredDebitCredit: "C"}),
		encodeLine(t, TypeTrailer, map[string]string{
			FieldServiceCount: "000002", FieldInsuredCount: "000000", FieldCommentCount: "000000",
			FieldDetailCount: "0000002", FieldTotalAmount: "00000000600", FieldTotalDebitCredit: "D",
		}),
	}
	report, err := CheckBatch(readTestBatch(t, strings.Join(lines, "\n")))
	if err != nil {
		t.Fatal(err)
	}
	if !report.Totals.Match || report.Totals.SummedCents != 600 || *report.Totals.DeclaredCents != 600 {
		t.Errorf("unexpected totals: %+v", report.Totals)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", report.Warnings)
	}
}

func TestCheckBatch_SurfacesDroppedAndUnknown(t *testing.T) {
	data := buildFile(t, 1, 1, 0, "03"+strings.Repeat(" ", RecordLength-2), "04short")
	report, err := CheckBatch(readTestBatch(t, data))
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(report.Warnings, "\n")
	if !strings.Contains(joined, `unrecognized record type "03"`) {
		t.Errorf("expected unknown tag warning, got %v", report.Warnings)
	}
	if !strings.Contains(joined, "malformed record") {
		t.Errorf("expected dropped line warning, got %v", report.Warnings)
	}
}

func TestCheckBatch_StructureErrors(t *testing.T) {
	noTrailer := encodeLine(t, TypeHeader, nil)
	if _, err := CheckBatch(readTestBatch(t, noTrailer)); !errors.Is(err, ErrBatchStructure) {
		t.Errorf("expected ErrBatchStructure for missing trailer, got %v", err)
	}

	twoHeaders := buildFile(t, 0, 1, 0) + encodeLine(t, TypeHeader, nil)
	_, err := CheckBatch(readTestBatch(t, twoHeaders))
	var se *StructureError
	if !errors.As(err, &se) || se.Type != TypeHeader || se.Got != 2 {
		t.Errorf("expected header structure error, got %v", err)
	}
}
