// Package insurer resolves UZOVI insurer codes to insurer names.
package insurer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Column headers of the UZOVI lookup file.
const (
	ColumnCode = "Uzovi-nummer"
	ColumnName = "Verzekering"
)

// ErrMissingColumn is returned when the lookup file lacks a required header.
var ErrMissingColumn = errors.New("missing column")

// Table maps UZOVI codes to insurer names. A nil Table resolves nothing.
type Table map[string]string

// Name returns the insurer name for code.
func (t Table) Name(code string) (string, bool) {
	name, ok := t[code]
	return name, ok
}

// Codes returns the known codes in sorted order.
func (t Table) Codes() []string {
	codes := make([]string, 0, len(t))
	for c := range t {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Load reads a CSV with Uzovi-nummer and Verzekering columns. Other columns
// are ignored. Codes are kept as strings so leading zeros survive. Later
// rows win on duplicate codes.
func Load(r io.Reader) (Table, error) {
	br := bufio.NewReader(r)

	// Skip UTF-8 BOM if present
	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.Comma = detectComma(br)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	codeIdx, nameIdx := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case ColumnCode:
			codeIdx = i
		case ColumnName:
			nameIdx = i
		}
	}
	if codeIdx < 0 {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, ColumnCode)
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, ColumnName)
	}

	t := make(Table)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if codeIdx >= len(row) || nameIdx >= len(row) {
			continue
		}
		code := strings.TrimSpace(row[codeIdx])
		if code == "" {
			continue
		}
		t[code] = strings.TrimSpace(row[nameIdx])
	}
	return t, nil
}

// LoadFile reads the lookup table from path.
func LoadFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return t, nil
}

// detectComma picks ';' when the header line has more semicolons than
// commas. Dutch spreadsheet exports default to semicolons.
func detectComma(br *bufio.Reader) rune {
	peek, _ := br.Peek(br.Size())
	if i := strings.IndexByte(string(peek), '\n'); i >= 0 {
		peek = peek[:i]
	}
	if strings.Count(string(peek), ";") > strings.Count(string(peek), ",") {
		return ';'
	}
	return ','
}
