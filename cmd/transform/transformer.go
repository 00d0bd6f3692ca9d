// Package transform cleans raw sales extracts and aggregates them by product line.
package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
	"github.com/airframesio/sales-pipeline/cmd/formatters"
)

// Default file names inside the staging directory
const (
	DefaultInputFile  = "sales_data_sample.csv"
	DefaultOutputFile = "aggregated_sales_data.csv"
)

// Options names the input and output files
type Options struct {
	InputFile  string
	OutputFile string
}

// AggregateFile is the artifact handed to the loader
type AggregateFile struct {
	Path       string `json:"path"`
	Rows       int    `json:"rows"`
	SourceRows int    `json:"source_rows"`
}

// Transformer turns the raw extract into the aggregate file
type Transformer struct {
	opts      Options
	logger    *slog.Logger
	formatter *formatters.CSVFormatter
}

// New creates a Transformer, filling in default file names
func New(logger *slog.Logger, opts Options) *Transformer {
	if opts.InputFile == "" {
		opts.InputFile = DefaultInputFile
	}
	if opts.OutputFile == "" {
		opts.OutputFile = DefaultOutputFile
	}
	return &Transformer{
		opts:      opts,
		logger:    logger,
		formatter: formatters.NewCSVFormatter(),
	}
}

// Transform reads the input file from localDir and writes the aggregate next to it
func (t *Transformer) Transform(ctx context.Context, localDir string) (AggregateFile, error) {
	if err := ctx.Err(); err != nil {
		return AggregateFile{}, err
	}

	inputPath := filepath.Join(localDir, t.opts.InputFile)
	records, err := t.readRecords(inputPath)
	if err != nil {
		return AggregateFile{}, err
	}

	var undated int
	for _, rec := range records {
		if rec.OrderDate == "" {
			undated++
		}
	}
	if undated > 0 {
		t.logger.Warn(fmt.Sprintf("%d of %d rows have an unparseable ORDERDATE", undated, len(records)))
	}

	rows := Aggregate(records)
	outputPath := filepath.Join(localDir, t.opts.OutputFile)
	if err := t.writeAggregate(outputPath, rows); err != nil {
		return AggregateFile{}, err
	}

	t.logger.Info(fmt.Sprintf("Aggregated %d rows into %d product lines: %s", len(records), len(rows), outputPath))
	return AggregateFile{Path: outputPath, Rows: len(rows), SourceRows: len(records)}, nil
}

func (t *Transformer) readRecords(path string) ([]CleanedRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", etlerr.ErrInputFileMissing, path)
		}
		return nil, fmt.Errorf("%w: open %s: %w", etlerr.ErrInputFileMissing, path, err)
	}

	reader := formatters.NewLatin1CSVReader(file)
	defer reader.Close()

	if err := reader.RequireColumns(RequiredColumns...); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", etlerr.ErrMalformedInput, path, err)
	}

	var records []CleanedRecord
	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", etlerr.ErrMalformedInput, path, err)
		}

		rec, err := Clean(RawRecord{
			State:       row.Get(ColumnState),
			PostalCode:  row.Get(ColumnPostalCode),
			OrderDate:   row.Get(ColumnOrderDate),
			ProductLine: row.Get(ColumnProductLine),
			Sales:       row.Get(ColumnSales),
		})
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, row.Line, err)
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s has no data rows", etlerr.ErrMalformedInput, path)
	}
	return records, nil
}

func (t *Transformer) writeAggregate(path string, rows []AggregateRow) error {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Record())
	}

	data, err := t.formatter.Format(AggregateHeader, records)
	if err != nil {
		return fmt.Errorf("failed to format aggregate: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".aggregate-*"+t.formatter.Extension())
	if err != nil {
		return fmt.Errorf("failed to create aggregate file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write aggregate file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write aggregate file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move aggregate file into place: %w", err)
	}
	return nil
}
