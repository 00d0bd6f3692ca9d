package formatters

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVFormatter handles CSV format output
type CSVFormatter struct{}

// NewCSVFormatter creates a new CSV formatter
func NewCSVFormatter() *CSVFormatter {
	return &CSVFormatter{}
}

// Format renders a header row followed by records as UTF-8 CSV
func (f *CSVFormatter) Format(header []string, records [][]string) ([]byte, error) {
	var buffer bytes.Buffer
	writer := csv.NewWriter(&buffer)

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, record := range records {
		if len(record) != len(header) {
			return nil, fmt.Errorf("CSV record has %d fields, header has %d", len(record), len(header))
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buffer.Bytes(), nil
}

// Extension returns the file extension for CSV files
func (f *CSVFormatter) Extension() string {
	return ".csv"
}
