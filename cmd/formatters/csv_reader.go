package formatters

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ErrMissingColumns is returned when a CSV header lacks required columns
var ErrMissingColumns = errors.New("missing required columns")

// Row is one CSV record addressed by header name
type Row struct {
	Line   int
	values []string
	index  map[string]int
}

// Get returns the value of column name, or "" when the column is absent or the
// record is short.
func (r Row) Get(name string) string {
	i, ok := r.index[name]
	if !ok || i >= len(r.values) {
		return ""
	}
	return r.values[i]
}

// Len returns the number of fields in the record
func (r Row) Len() int {
	return len(r.values)
}

// CSVReader reads CSV format with header detection
type CSVReader struct {
	reader   *csv.Reader
	closer   io.Closer
	headers  []string
	index    map[string]int
	readOnce bool
	line     int
}

// NewCSVReader creates a new CSV reader over UTF-8 input
func NewCSVReader(r io.Reader) *CSVReader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Short rows are padded by Get
	return &CSVReader{reader: reader}
}

// NewCSVReaderWithCloser creates a new CSV reader with a closable reader
func NewCSVReaderWithCloser(r io.ReadCloser) *CSVReader {
	reader := NewCSVReader(r)
	reader.closer = r
	return reader
}

// NewLatin1CSVReader creates a CSV reader that decodes ISO-8859-1 input to UTF-8.
// Decoding with the wrong charset does not fail, it silently corrupts non-ASCII bytes,
// so callers reading Latin-1 extracts must use this constructor.
func NewLatin1CSVReader(r io.ReadCloser) *CSVReader {
	reader := NewCSVReader(charmap.ISO8859_1.NewDecoder().Reader(r))
	reader.closer = r
	return reader
}

// readHeaders reads the header row if not already read
func (r *CSVReader) readHeaders() error {
	if r.readOnce {
		return nil
	}

	headers, err := r.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read CSV header: %w", io.ErrUnexpectedEOF)
		}
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	r.headers = make([]string, len(headers))
	r.index = make(map[string]int, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		r.headers[i] = h
		if _, dup := r.index[h]; !dup {
			r.index[h] = i
		}
	}
	r.readOnce = true
	r.line = 1
	return nil
}

// Headers returns the header row, reading it if needed
func (r *CSVReader) Headers() ([]string, error) {
	if err := r.readHeaders(); err != nil {
		return nil, err
	}
	return r.headers, nil
}

// RequireColumns checks that every named column is present in the header
func (r *CSVReader) RequireColumns(columns ...string) error {
	if err := r.readHeaders(); err != nil {
		return err
	}

	var missing []string
	for _, col := range columns {
		if _, ok := r.index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

// Next returns the next record, or io.EOF when the input is exhausted
func (r *CSVReader) Next() (Row, error) {
	if err := r.readHeaders(); err != nil {
		return Row{}, err
	}

	for {
		record, err := r.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Row{}, io.EOF
			}
			return Row{}, fmt.Errorf("failed to read CSV record: %w", err)
		}
		r.line++

		// Skip blank lines
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		return Row{Line: r.line, values: record, index: r.index}, nil
	}
}

// ReadAll reads all remaining rows from the CSV stream
func (r *CSVReader) ReadAll() ([]Row, error) {
	var rows []Row
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// Close closes the underlying reader if it's closable
func (r *CSVReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
