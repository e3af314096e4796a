package mz301

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Record is one decoded line: trimmed raw strings keyed by field name.
// No numeric or date coercion happens here.
type Record struct {
	Type   RecordType
	Line   int // 1-based line number in the source file, 0 if built in memory
	fields map[string]string
}

// NewRecord builds a record of type t from field values. Fields missing from
// values are empty. The record_type field defaults to t.
func NewRecord(t RecordType, values map[string]string) Record {
	fields := make(map[string]string, len(values)+1)
	for k, v := range values {
		fields[k] = v
	}
	if _, ok := fields[FieldRecordType]; !ok {
		fields[FieldRecordType] = string(t)
	}
	return Record{Type: t, fields: fields}
}

// Get returns the trimmed value of a field, or "" if the field is absent.
func (r Record) Get(name string) string {
	return r.fields[name]
}

// Fields returns a copy of the field map.
func (r Record) Fields() map[string]string {
	out := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Decode slices line into the fields of t's layout and trims each value.
// Lines shorter than RecordLength characters fail with ErrMalformedRecord;
// field content is never validated.
func Decode(line string, t RecordType) (Record, error) {
	layout, err := LayoutFor(t)
	if err != nil {
		return Record{}, &LineError{Tag: tagOf(line), Length: utf8.RuneCountInString(line), Err: err}
	}

	chars := charsOf(line)
	if chars.len() < RecordLength {
		return Record{}, &LineError{Tag: tagOf(line), Length: chars.len(), Err: ErrMalformedRecord}
	}

	fields := make(map[string]string, len(layout.Fields))
	for _, f := range layout.Fields {
		fields[f.Name] = strings.TrimSpace(chars.slice(f.Start, f.End))
	}
	return Record{Type: t, fields: fields}, nil
}

// Encode writes a record back into its fixed slots, right-padding each value
// with spaces. Values wider than their slot are rejected.
func Encode(r Record) (string, error) {
	layout, err := LayoutFor(r.Type)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(RecordLength)
	for _, f := range layout.Fields {
		v := r.Get(f.Name)
		n := utf8.RuneCountInString(v)
		if n > f.Width() {
			return "", fmt.Errorf("field %s: value %q is %d chars, slot is %d", f.Name, v, n, f.Width())
		}
		b.WriteString(v)
		b.WriteString(strings.Repeat(" ", f.Width()-n))
	}
	return b.String(), nil
}

// lineChars indexes a line by character rather than byte. ASCII lines, the
// common case, are sliced without conversion.
type lineChars struct {
	s     string
	runes []rune
}

func charsOf(s string) lineChars {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return lineChars{runes: []rune(s)}
		}
	}
	return lineChars{s: s}
}

func (c lineChars) len() int {
	if c.runes != nil {
		return len(c.runes)
	}
	return len(c.s)
}

func (c lineChars) slice(start, end int) string {
	if c.runes != nil {
		return string(c.runes[start:end])
	}
	return c.s[start:end]
}

func tagOf(line string) string {
	c := charsOf(line)
	if c.len() < 2 {
		return c.slice(0, c.len())
	}
	return c.slice(0, 2)
}

// ParseDate parses an 8-digit YYYYMMDD value. ok is false for empty or
// unparsable input.
func ParseDate(s string) (t time.Time, ok bool) {
	if len(s) != 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseCents parses an amount expressed in whole cents (two implied
// fraction digits).
func ParseCents(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseCount parses a non-negative record count from the trailer.
func ParseCount(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Signed applies a debit/credit indicator to an amount: "C" is negative,
// anything else (normally "D") is positive.
func Signed(cents int64, indicator string) int64 {
	if indicator == "C" {
		return -cents
	}
	return cents
}
