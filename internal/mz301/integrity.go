package mz301

import (
	"fmt"
	"time"
)

// Category is one trailer count that is cross-checked against the batch.
type Category string

const (
	CategoryInsuredPersons Category = "insured_persons"
	CategoryServiceLines   Category = "service_lines"
	CategoryComments       Category = "comments"
	CategoryDetailRecords  Category = "detail_records"
)

// Categories lists the checked categories in report order.
var Categories = []Category{CategoryInsuredPersons, CategoryServiceLines, CategoryComments, CategoryDetailRecords}

// CountCheck compares one declared trailer count with the actual count.
// Expected is nil when the trailer value is empty or not a number; such a
// category never matches.
type CountCheck struct {
	Category Category `json:"category"`
	Expected *int     `json:"expected"`
	Actual   int      `json:"actual"`
	Match    bool     `json:"match"`
}

// AmountCheck compares the trailer's declared total with the sum of the
// service lines' declared amounts, both signed by their debit/credit
// indicator, in cents. It is informational and separate from the counts.
type AmountCheck struct {
	DeclaredCents *int64 `json:"declared_cents"`
	SummedCents   int64  `json:"summed_cents"`
	Unparsed      int    `json:"unparsed_lines"` // service lines with no usable amount
	Match         bool   `json:"match"`
}

// IntegrityReport is the result of cross-checking a batch with its trailer.
type IntegrityReport struct {
	PeriodStart   *time.Time   `json:"period_start"`
	PeriodEnd     *time.Time   `json:"period_end"`
	Counts        []CountCheck `json:"counts"`
	Totals        AmountCheck  `json:"totals"`
	Discrepancies []string     `json:"discrepancies"`
	Warnings      []string     `json:"warnings"`
}

// Count returns the check for category c.
func (r *IntegrityReport) Count(c Category) (CountCheck, bool) {
	for _, cc := range r.Counts {
		if cc.Category == c {
			return cc, true
		}
	}
	return CountCheck{}, false
}

// OK reports whether every count category matches.
func (r *IntegrityReport) OK() bool {
	for _, cc := range r.Counts {
		if !cc.Match {
			return false
		}
	}
	return true
}

// Check cross-checks the declared trailer counts with the decoded
// collections. Insured-person records count twice towards the declared detail
// total; header and trailer are excluded from it. Mismatches are reported,
// never returned as errors.
func Check(header, trailer Record, insuredPersons, serviceLines, comments []Record) *IntegrityReport {
	report := &IntegrityReport{
		Discrepancies: []string{},
		Warnings:      []string{},
	}
	if t, ok := ParseDate(header.Get(FieldPeriodStart)); ok {
		report.PeriodStart = &t
	}
	if t, ok := ParseDate(header.Get(FieldPeriodEnd)); ok {
		report.PeriodEnd = &t
	}

	actual := map[Category]int{
		CategoryInsuredPersons: len(insuredPersons),
		CategoryServiceLines:   len(serviceLines),
		CategoryComments:       len(comments),
		CategoryDetailRecords:  len(insuredPersons)*2 + len(serviceLines) + len(comments),
	}
	declaredField := map[Category]string{
		CategoryInsuredPersons: FieldInsuredCount,
		CategoryServiceLines:   FieldServiceCount,
		CategoryComments:       FieldCommentCount,
		CategoryDetailRecords:  FieldDetailCount,
	}

	for _, c := range Categories {
		cc := CountCheck{Category: c, Actual: actual[c]}
		raw := trailer.Get(declaredField[c])
		if n, ok := ParseCount(raw); ok {
			cc.Expected = &n
			cc.Match = n == cc.Actual
			if !cc.Match {
				report.Discrepancies = append(report.Discrepancies,
					fmt.Sprintf("%s: found %d, trailer declares %d", c, cc.Actual, n))
			}
		} else {
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("%s: found %d, trailer count %q is not a number", c, cc.Actual, raw))
		}
		report.Counts = append(report.Counts, cc)
	}

	report.Totals = checkTotals(trailer, serviceLines)
	return report
}

func checkTotals(trailer Record, serviceLines []Record) AmountCheck {
	var ac AmountCheck
	for _, sl := range serviceLines {
		cents, ok := ParseCents(sl.Get(FieldDeclaredAmount))
		if !ok {
			ac.Unparsed++
			continue
		}
		ac.SummedCents += Signed(cents, sl.Get(FieldDeclaredDebitCredit))
	}
	if cents, ok := ParseCents(trailer.Get(FieldTotalAmount)); ok {
		declared := Signed(cents, trailer.Get(FieldTotalDebitCredit))
		ac.DeclaredCents = &declared
		ac.Match = declared == ac.SummedCents && ac.Unparsed == 0
	}
	return ac
}

// CheckBatch validates the batch structure (exactly one header and one
// trailer) and then runs Check. Structure violations are fatal and returned
// as a *StructureError wrapping ErrBatchStructure. Dropped lines and
// unrecognized tags are surfaced as report warnings.
func CheckBatch(b *Batch) (*IntegrityReport, error) {
	header, err := b.Header()
	if err != nil {
		return nil, err
	}
	trailer, err := b.Trailer()
	if err != nil {
		return nil, err
	}

	report := Check(header, trailer, b.InsuredPersons, b.ServiceLines, b.Comments)
	if !report.Totals.Match {
		declared := "missing"
		if report.Totals.DeclaredCents != nil {
			declared = formatCents(*report.Totals.DeclaredCents)
		}
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"declared total %s does not equal the sum of service lines %s (%d lines without amount)",
			declared, formatCents(report.Totals.SummedCents), report.Totals.Unparsed))
	}
	for _, le := range b.Dropped {
		report.Warnings = append(report.Warnings, "dropped "+le.Error())
	}
	for _, tag := range b.UnknownTags() {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("skipped %d line(s) with unrecognized record type %q", b.Unknown[tag], tag))
	}
	return report, nil
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
