// Package rules holds the business-rule catalog for claim lines and the
// engine that evaluates it. Rules are data: a grouping key, an optional
// admission predicate over each group, and a row filter choosing which rows
// of an admitted group are reported.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gyeh/claimcheck/internal/claims"
)

// Key is one component of a grouping key.
type Key string

const (
	KeySubject Key = "subject"
	KeyDate    Key = "date"
	KeyElement Key = "element"
)

// Flag is a row condition usable in RowFilter.AnyOf.
type Flag string

const (
	// FlagAuthorizationInvalid: authorization number missing, empty or
	// shorter than MinAuthorizationLength characters.
	FlagAuthorizationInvalid Flag = "authorization_invalid"
	FlagElementMissing       Flag = "element_missing"
	FlagBirthDateMissing     Flag = "birth_date_missing"
	// FlagAmountNegative: declared, fee or technique amount below zero.
	FlagAmountNegative Flag = "amount_negative"
)

// MinAuthorizationLength is the shortest authorization number accepted.
const MinAuthorizationLength = 5

var (
	validKeys  = map[Key]bool{KeySubject: true, KeyDate: true, KeyElement: true}
	validFlags = map[Flag]bool{
		FlagAuthorizationInvalid: true,
		FlagElementMissing:       true,
		FlagBirthDateMissing:     true,
		FlagAmountNegative:       true,
	}
)

// Rule is one catalog entry. At most one of RequireAll and Count is set;
// with neither, every group is admitted.
type Rule struct {
	Name        string      `yaml:"name"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description,omitempty"`
	Disabled    bool        `yaml:"disabled,omitempty"`
	GroupBy     []Key       `yaml:"group_by,omitempty"`
	RequireAll  []CodeMatch `yaml:"require_all,omitempty"`
	Count       *CountLimit `yaml:"count,omitempty"`
	Select      RowFilter   `yaml:"select"`
}

// CodeMatch matches a service code. Contains is substring matching and
// Equals is exact matching; a code matches if any entry of either list does.
type CodeMatch struct {
	Contains []string `yaml:"contains,omitempty"`
	Equals   []string `yaml:"equals,omitempty"`
}

// Match reports whether code satisfies m.
func (m CodeMatch) Match(code string) bool {
	for _, e := range m.Equals {
		if code == e {
			return true
		}
	}
	for _, c := range m.Contains {
		if strings.Contains(code, c) {
			return true
		}
	}
	return false
}

func (m CodeMatch) empty() bool { return len(m.Contains) == 0 && len(m.Equals) == 0 }

func (m CodeMatch) String() string {
	var parts []string
	if len(m.Equals) > 0 {
		parts = append(parts, "="+strings.Join(m.Equals, "|"))
	}
	if len(m.Contains) > 0 {
		parts = append(parts, "~"+strings.Join(m.Contains, "|"))
	}
	return strings.Join(parts, " ")
}

// ElementMatch selects a segment of the dentition by element code: exact
// values (e.g. "Bovenkaak") or the element's first character (quadrant).
type ElementMatch struct {
	Equals    []string `yaml:"equals,omitempty"`
	FirstChar []string `yaml:"first_char,omitempty"`
}

// Match reports whether element belongs to the segment. A nil element
// belongs to no segment.
func (m ElementMatch) Match(element *string) bool {
	if element == nil {
		return false
	}
	for _, e := range m.Equals {
		if *element == e {
			return true
		}
	}
	if *element == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(*element)
	for _, c := range m.FirstChar {
		if string(r) == c {
			return true
		}
	}
	return false
}

// CountLimit admits a group when more than Max of its rows match Code. With
// Segments, rows are counted per segment and one segment over Max is enough.
type CountLimit struct {
	Code     CodeMatch      `yaml:"code"`
	Segments []ElementMatch `yaml:"segments,omitempty"`
	Max      int            `yaml:"max"`
}

// RowFilter is a conjunction of row conditions. Unset conditions match every
// row; AnyOf matches if at least one listed flag holds. Conditions over a nil
// field never match, so a missing age never satisfies AgeBelow.
type RowFilter struct {
	Code            *CodeMatch `yaml:"code,omitempty"`
	AgeBelow        *int       `yaml:"age_below,omitempty"`
	InsurerContains string     `yaml:"insurer_contains,omitempty"`
	RecordIndicator string     `yaml:"record_indicator,omitempty"`
	TariffBelow     *float64   `yaml:"tariff_below,omitempty"`
	TariffAbove     *float64   `yaml:"tariff_above,omitempty"`
	AnyOf           []Flag     `yaml:"any_of,omitempty"`
}

// Match reports whether row satisfies every condition of f.
func (f RowFilter) Match(row *claims.ClaimLine) bool {
	if f.Code != nil && !f.Code.Match(row.ServiceCode) {
		return false
	}
	if f.AgeBelow != nil && (row.Age == nil || *row.Age >= *f.AgeBelow) {
		return false
	}
	if f.InsurerContains != "" && (row.InsurerName == nil || !strings.Contains(*row.InsurerName, f.InsurerContains)) {
		return false
	}
	if f.RecordIndicator != "" && row.RecordIndicator != f.RecordIndicator {
		return false
	}
	if f.TariffBelow != nil && (row.Tariff == nil || *row.Tariff >= claims.AmountFromEuros(*f.TariffBelow)) {
		return false
	}
	if f.TariffAbove != nil && (row.Tariff == nil || *row.Tariff <= claims.AmountFromEuros(*f.TariffAbove)) {
		return false
	}
	if len(f.AnyOf) > 0 {
		for _, flag := range f.AnyOf {
			if flag.holds(row) {
				return true
			}
		}
		return false
	}
	return true
}

func (flag Flag) holds(row *claims.ClaimLine) bool {
	switch flag {
	case FlagAuthorizationInvalid:
		return AuthorizationInvalid(row.AuthorizationNumber)
	case FlagElementMissing:
		return row.ElementCode == nil || *row.ElementCode == ""
	case FlagBirthDateMissing:
		return row.BirthDate == nil
	case FlagAmountNegative:
		return negative(row.DeclaredAmount) || negative(row.FeeAmount) || negative(row.TechniqueAmount)
	}
	return false
}

func negative(a *claims.Amount) bool { return a != nil && *a < 0 }

// AuthorizationInvalid reports whether an authorization number is missing,
// empty or shorter than MinAuthorizationLength characters.
func AuthorizationInvalid(auth *string) bool {
	return auth == nil || utf8.RuneCountInString(*auth) < MinAuthorizationLength
}

// ErrInvalidRule marks a catalog entry that cannot be evaluated.
var ErrInvalidRule = errors.New("invalid rule")

// RuleError names the rule and what is wrong with it.
type RuleError struct {
	Rule   string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q: %v: %s", e.Rule, ErrInvalidRule, e.Reason)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRule }

// Validate checks a single rule.
func (r Rule) Validate() error {
	name := r.Name
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, &RuleError{Rule: name, Reason: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(r.Name) == "" {
		fail("name is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		fail("title is required")
	}

	seen := map[Key]bool{}
	for _, k := range r.GroupBy {
		if !validKeys[k] {
			fail("unknown group_by key %q", k)
		}
		if seen[k] {
			fail("duplicate group_by key %q", k)
		}
		seen[k] = true
	}

	if len(r.RequireAll) > 0 && r.Count != nil {
		fail("require_all and count are mutually exclusive")
	}
	if (len(r.RequireAll) > 0 || r.Count != nil) && len(r.GroupBy) == 0 {
		fail("admission predicate needs group_by")
	}
	for i, m := range r.RequireAll {
		if m.empty() {
			fail("require_all[%d] matches nothing", i)
		}
	}
	if c := r.Count; c != nil {
		if c.Code.empty() {
			fail("count.code matches nothing")
		}
		if c.Max < 0 {
			fail("count.max must not be negative, got %d", c.Max)
		}
		for i, s := range c.Segments {
			if len(s.Equals) == 0 && len(s.FirstChar) == 0 {
				fail("count.segments[%d] matches nothing", i)
			}
		}
	}

	f := r.Select
	if f.Code != nil && f.Code.empty() {
		fail("select.code matches nothing")
	}
	if f.AgeBelow != nil && *f.AgeBelow <= 0 {
		fail("select.age_below must be positive, got %d", *f.AgeBelow)
	}
	if f.TariffBelow != nil && *f.TariffBelow <= 0 {
		fail("select.tariff_below must be positive, got %v", *f.TariffBelow)
	}
	if f.TariffAbove != nil && *f.TariffAbove <= 0 {
		fail("select.tariff_above must be positive, got %v", *f.TariffAbove)
	}
	for _, flag := range f.AnyOf {
		if !validFlags[flag] {
			fail("unknown select.any_of flag %q", flag)
		}
	}
	if len(r.GroupBy) == 0 && f.Code == nil && f.AgeBelow == nil && f.InsurerContains == "" &&
		f.RecordIndicator == "" && f.TariffBelow == nil && f.TariffAbove == nil && len(f.AnyOf) == 0 {
		fail("select matches every row")
	}
	return errors.Join(errs...)
}
