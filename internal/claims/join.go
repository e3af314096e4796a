package claims

import (
	"strconv"
	"time"

	"github.com/gyeh/claimcheck/internal/mz301"
)

// BuildClaimLines joins insured-person records to service-line records on
// BSN and coerces the joined values. Every service line appears at least
// once: a line without a matching person keeps nil person fields, and a line
// matching several persons appears once per person, in person order.
//
// Unparsable dates and amounts become nil and are reported as non-fatal
// coercion errors. A missing or invalid quantity drops the row and is
// reported as fatal. lookup may be nil.
func BuildClaimLines(insuredPersons, serviceLines []mz301.Record, lookup InsurerLookup) ([]ClaimLine, []*CoercionError) {
	persons := make(map[string][]mz301.Record, len(insuredPersons))
	for _, p := range insuredPersons {
		bsn := p.Get(mz301.FieldBSN)
		persons[bsn] = append(persons[bsn], p)
	}

	var out []ClaimLine
	var warns []*CoercionError
	for _, sl := range serviceLines {
		base, errs := coerceServiceLine(sl)
		warns = append(warns, errs...)
		if base == nil {
			continue
		}

		matches := persons[base.Subject]
		if len(matches) == 0 {
			out = append(out, *base)
			continue
		}
		for _, p := range matches {
			row := *base
			errs := applyPerson(&row, p, lookup)
			warns = append(warns, errs...)
			out = append(out, row)
		}
	}
	return out, warns
}

func coerceServiceLine(sl mz301.Record) (*ClaimLine, []*CoercionError) {
	var warns []*CoercionError
	c := coercer{line: sl.Line, warns: &warns}

	qty, err := strconv.Atoi(sl.Get(mz301.FieldQuantity))
	if err != nil {
		warns = append(warns, &CoercionError{
			Line:  sl.Line,
			Field: mz301.FieldQuantity,
			Value: sl.Get(mz301.FieldQuantity),
			Fatal: true,
		})
		return nil, warns
	}

	row := &ClaimLine{
		Line:                sl.Line,
		Subject:             sl.Get(mz301.FieldBSN),
		AuthorizationNumber: ptr(sl.Get(mz301.FieldAuthorizationNumber)),
		ServiceDate:         c.date(mz301.FieldServiceDate, sl.Get(mz301.FieldServiceDate)),
		RecordIndicator:     sl.Get(mz301.FieldRecordIndicator),
		ServiceCode:         sl.Get(mz301.FieldServiceCode),
		ElementCode:         ptr(sl.Get(mz301.FieldElementCode)),
		Tariff:              c.amount(mz301.FieldTariff, sl.Get(mz301.FieldTariff)),
		Quantity:            qty,
		ComputedAmount:      c.amount(mz301.FieldComputedAmount, sl.Get(mz301.FieldComputedAmount)),
		DeclaredAmount:      c.amount(mz301.FieldDeclaredAmount, sl.Get(mz301.FieldDeclaredAmount)),
	}
	// credit lines carry their own sign
	if row.DeclaredAmount != nil {
		signed := Amount(mz301.Signed(int64(*row.DeclaredAmount), sl.Get(mz301.FieldDeclaredDebitCredit)))
		row.DeclaredAmount = &signed
	}
	return row, warns
}

func applyPerson(row *ClaimLine, p mz301.Record, lookup InsurerLookup) []*CoercionError {
	var warns []*CoercionError
	c := coercer{line: p.Line, warns: &warns}

	row.BirthDate = c.date(mz301.FieldBirthDate, p.Get(mz301.FieldBirthDate))
	row.Surname = ptr(p.Get(mz301.FieldSurname))
	row.Initials = ptr(p.Get(mz301.FieldInitials))

	code := p.Get(mz301.FieldInsurerCode)
	row.InsurerCode = ptr(code)
	if lookup != nil {
		if name, ok := lookup.Name(code); ok {
			row.InsurerName = ptr(name)
		}
	}
	row.Age = AgeAt(row.BirthDate, row.ServiceDate)
	return warns
}

// AgeAt returns the age in whole years at the service date, computed as the
// floor of elapsed days divided by 365. Leap days and the exact birthday are
// ignored, so the result can run ahead of the calendar age near birthdays.
// Rule thresholds were tuned against this formula. nil if either date is nil.
func AgeAt(birth, service *time.Time) *int {
	if birth == nil || service == nil {
		return nil
	}
	days := daysBetween(*birth, *service)
	age := floorDiv(days, 365)
	return &age
}

func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f) / (24 * time.Hour))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

type coercer struct {
	line  int
	warns *[]*CoercionError
}

func (c coercer) date(field, value string) *time.Time {
	if value == "" {
		return nil
	}
	t, ok := mz301.ParseDate(value)
	if !ok {
		*c.warns = append(*c.warns, &CoercionError{Line: c.line, Field: field, Value: value})
		return nil
	}
	return &t
}

func (c coercer) amount(field, value string) *Amount {
	if value == "" {
		return nil
	}
	cents, ok := mz301.ParseCents(value)
	if !ok {
		*c.warns = append(*c.warns, &CoercionError{Line: c.line, Field: field, Value: value})
		return nil
	}
	a := Amount(cents)
	return &a
}

func ptr[T any](v T) *T { return &v }

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return ptr(v) }
