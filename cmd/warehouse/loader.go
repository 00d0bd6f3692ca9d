package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/lib/pq"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
	"github.com/airframesio/sales-pipeline/cmd/formatters"
)

// Loader replaces the target table with the rows of an aggregate file
type Loader struct {
	db     *sql.DB
	schema *TableSchema
	dbName string
	logger *slog.Logger
}

// NewLoader creates a Loader writing into table of db.
// dbName is only used in log messages.
func NewLoader(db *sql.DB, dbName, table string, logger *slog.Logger) *Loader {
	return &Loader{
		db:     db,
		schema: AggregateSchema(table),
		dbName: dbName,
		logger: logger,
	}
}

// Load drops, recreates and fills the table inside one transaction, so a failure
// leaves the previous table in place. It returns the number of rows written.
func (l *Loader) Load(ctx context.Context, path string) (int64, error) {
	rows, err := l.readRows(path)
	if err != nil {
		return 0, err
	}

	if err := l.db.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("%w: ping: %w", etlerr.ErrConnection, err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin transaction", err)
	}

	count, err := l.replace(ctx, tx, rows)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			l.logger.Warn(fmt.Sprintf("Rollback failed: %v", rbErr))
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, classify("commit", err)
	}

	l.logger.Info(fmt.Sprintf("Loaded %d rows into %s.%s", count, l.dbName, l.schema.TableName))
	return count, nil
}

func (l *Loader) replace(ctx context.Context, tx *sql.Tx, rows [][]any) (int64, error) {
	if _, err := tx.ExecContext(ctx, l.schema.DropTableSQL()); err != nil {
		return 0, classify("drop table", err)
	}
	if _, err := tx.ExecContext(ctx, l.schema.CreateTableSQL()); err != nil {
		return 0, classify("create table", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(l.schema.TableName, l.schema.ColumnNames()...))
	if err != nil {
		return 0, classify("prepare copy", err)
	}
	defer stmt.Close()

	for _, values := range rows {
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return 0, classify("copy row", err)
		}
	}

	// Flush buffered COPY data
	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, classify("copy flush", err)
	}

	return int64(len(rows)), nil
}

func (l *Loader) readRows(path string) ([][]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open aggregate %s: %w", etlerr.ErrLoad, path, err)
	}

	reader := formatters.NewCSVReaderWithCloser(file)
	defer reader.Close()

	headers, err := reader.Headers()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", etlerr.ErrSchema, path, err)
	}
	if err := l.schema.CheckHeader(headers); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", etlerr.ErrSchema, path, err)
	}

	rows := make([][]any, 0, len(records))
	for _, row := range records {
		values, err := l.schema.ParseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		rows = append(rows, values)
	}

	l.logger.Debug(fmt.Sprintf("Read %d rows from %s", len(rows), path))
	return rows, nil
}
