package local

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Table is a header-indexed set of rows read from a CSV or XLSX file.
type Table struct {
	Header []string
	Rows   []Row

	// Malformed counts rows the reader could not parse and skipped.
	Malformed int
}

// Row is one data row. Line is the 1-based line (CSV) or row number (XLSX) it came from.
type Row struct {
	Line   int
	Fields []string
}

// Get returns the field at idx, or "" when the row is shorter than the header.
func (r Row) Get(idx int) string {
	if idx < 0 || idx >= len(r.Fields) {
		return ""
	}
	return r.Fields[idx]
}

// Index returns the position of the named column (case-insensitive, surrounding space ignored),
// or -1 if the header does not have it.
func (t *Table) Index(name string) int {
	name = strings.TrimSpace(name)
	if name == "" {
		return -1
	}
	for i, col := range t.Header {
		if strings.EqualFold(strings.TrimSpace(col), name) {
			return i
		}
	}
	return -1
}

// ReadFile reads a table, choosing the format from the file extension.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(f)
	default:
		return ReadCSV(f)
	}
}

// ReadCSV reads a headed CSV. Rows may have fewer or more fields than the header; a row that
// fails to parse is counted in Malformed and skipped rather than failing the whole read.
//
// Records are cut out line by line so a stray quote cannot swallow the rows after it: a quoted
// field may span at most maxRecordLines lines, and a record whose quotes never balance is
// dropped from its first line only.
func ReadCSV(r io.Reader) (*Table, error) {
	lr := &lineReader{br: bufio.NewReader(r)}

	header, _, err := lr.record()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty input")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := &Table{Header: normalizeHeader(header)}

	for {
		rec, line, err := lr.record()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, errMalformed) {
			t.Malformed++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		t.Rows = append(t.Rows, Row{Line: line, Fields: rec})
	}
	return t, nil
}

const maxRecordLines = 32

var errMalformed = errors.New("malformed record")

type csvLine struct {
	text string
	num  int
}

type lineReader struct {
	br      *bufio.Reader
	n       int
	pending []csvLine
	err     error
}

func (lr *lineReader) next() (csvLine, bool) {
	if len(lr.pending) > 0 {
		l := lr.pending[0]
		lr.pending = lr.pending[1:]
		return l, true
	}
	if lr.err != nil {
		return csvLine{}, false
	}
	s, err := lr.br.ReadString('\n')
	if err != nil {
		lr.err = err
		if s == "" {
			return csvLine{}, false
		}
	}
	lr.n++
	return csvLine{text: s, num: lr.n}, true
}

// record returns the next logical record and the line it starts on. It returns io.EOF at the
// end of input and errMalformed for a record that was skipped; in that case every line after
// the record's first is read again.
func (lr *lineReader) record() ([]string, int, error) {
	for {
		first, ok := lr.next()
		if !ok {
			if lr.err != nil && !errors.Is(lr.err, io.EOF) {
				return nil, 0, lr.err
			}
			return nil, 0, io.EOF
		}

		buf := []csvLine{first}
		var sb strings.Builder
		sb.WriteString(first.text)
		quotes := strings.Count(first.text, `"`)
		for quotes%2 == 1 && len(buf) < maxRecordLines {
			l, ok := lr.next()
			if !ok {
				break
			}
			buf = append(buf, l)
			sb.WriteString(l.text)
			quotes += strings.Count(l.text, `"`)
		}

		if quotes%2 == 0 {
			cr := csv.NewReader(strings.NewReader(sb.String()))
			cr.FieldsPerRecord = -1
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				// Blank line.
				continue
			}
			if err == nil {
				return rec, first.num, nil
			}
		}
		lr.pending = append(append([]csvLine(nil), buf[1:]...), lr.pending...)
		return nil, first.num, errMalformed
	}
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, col := range header {
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		out[i] = strings.TrimSpace(col)
	}
	return out
}
