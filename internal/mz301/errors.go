package mz301

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord means a line is shorter than RecordLength.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrUnknownRecordType means a tag has no registered layout.
	ErrUnknownRecordType = errors.New("unknown record type")
	// ErrBatchStructure means a batch lacks exactly one header or trailer.
	ErrBatchStructure = errors.New("batch structure error")
)

// LineError describes a single input line that could not be decoded.
type LineError struct {
	Line   int    // 1-based line number, 0 if unknown
	Tag    string // first two characters of the line
	Length int    // line length in characters
	Err    error
}

func (e *LineError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d (tag %q, %d chars): %v", e.Line, e.Tag, e.Length, e.Err)
	}
	return fmt.Sprintf("tag %q (%d chars): %v", e.Tag, e.Length, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// StructureError names the structural invariant a batch violates.
type StructureError struct {
	Type RecordType
	Got  int
}

func (e *StructureError) Error() string {
	name := string(e.Type)
	if l, ok := layouts[e.Type]; ok {
		name = l.Name
	}
	return fmt.Sprintf("batch must contain exactly one %s record (%s), found %d", name, e.Type, e.Got)
}

func (e *StructureError) Unwrap() error { return ErrBatchStructure }
