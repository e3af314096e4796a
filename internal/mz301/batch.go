package mz301

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Batch holds the decoded records of one declaration file, grouped by type.
type Batch struct {
	Headers        []Record
	InsuredPersons []Record
	ServiceLines   []Record
	Comments       []Record
	Trailers       []Record

	// Dropped lists lines with a known tag that failed to decode.
	Dropped []*LineError
	// Unknown counts lines per unrecognized tag (e.g. "03" debtor records).
	// They are excluded from every typed collection.
	Unknown map[string]int
	// Lines is the number of non-blank lines read.
	Lines int
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{Unknown: make(map[string]int)}
}

// ReadBatch reads UTF-8 text lines from r and routes each to its decoder by
// the first two characters. Blank lines are ignored. Only I/O failures are
// returned as errors; undecodable lines are recorded on the batch.
func ReadBatch(r io.Reader) (*Batch, error) {
	b := NewBatch()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.Add(lineNo, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading line %d: %w", lineNo+1, err)
	}
	return b, nil
}

// Add decodes one line and appends it to the matching collection.
func (b *Batch) Add(lineNo int, line string) {
	b.Lines++
	tag := tagOf(line)
	t := RecordType(tag)
	if !Known(t) {
		b.Unknown[tag]++
		return
	}

	rec, err := Decode(line, t)
	if err != nil {
		var le *LineError
		if errors.As(err, &le) {
			le.Line = lineNo
			b.Dropped = append(b.Dropped, le)
		} else {
			b.Dropped = append(b.Dropped, &LineError{Line: lineNo, Tag: tag, Err: err})
		}
		return
	}
	rec.Line = lineNo

	switch t {
	case TypeHeader:
		b.Headers = append(b.Headers, rec)
	case TypeInsuredPerson:
		b.InsuredPersons = append(b.InsuredPersons, rec)
	case TypeServiceLine:
		b.ServiceLines = append(b.ServiceLines, rec)
	case TypeComment:
		b.Comments = append(b.Comments, rec)
	case TypeTrailer:
		b.Trailers = append(b.Trailers, rec)
	}
}

// Header returns the single header record.
func (b *Batch) Header() (Record, error) {
	if len(b.Headers) != 1 {
		return Record{}, &StructureError{Type: TypeHeader, Got: len(b.Headers)}
	}
	return b.Headers[0], nil
}

// Trailer returns the single trailer record.
func (b *Batch) Trailer() (Record, error) {
	if len(b.Trailers) != 1 {
		return Record{}, &StructureError{Type: TypeTrailer, Got: len(b.Trailers)}
	}
	return b.Trailers[0], nil
}

// Count returns the number of decoded records of type t.
func (b *Batch) Count(t RecordType) int {
	switch t {
	case TypeHeader:
		return len(b.Headers)
	case TypeInsuredPerson:
		return len(b.InsuredPersons)
	case TypeServiceLine:
		return len(b.ServiceLines)
	case TypeComment:
		return len(b.Comments)
	case TypeTrailer:
		return len(b.Trailers)
	}
	return 0
}

// UnknownTags returns the unrecognized tags in sorted order.
func (b *Batch) UnknownTags() []string {
	tags := make([]string, 0, len(b.Unknown))
	for tag := range b.Unknown {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
