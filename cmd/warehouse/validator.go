package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
)

// Validator checks the loaded table after a run
type Validator struct {
	db     *sql.DB
	schema *TableSchema
	logger *slog.Logger
}

// NewValidator creates a Validator for table
func NewValidator(db *sql.DB, table string, logger *slog.Logger) *Validator {
	return &Validator{db: db, schema: AggregateSchema(table), logger: logger}
}

// ValidateNonEmpty fails with etlerr.ErrDataQuality when the table has no rows
func (v *Validator) ValidateNonEmpty(ctx context.Context) (int64, error) {
	var count int64
	if err := v.db.QueryRowContext(ctx, v.schema.CountSQL()).Scan(&count); err != nil {
		return 0, classify("count rows", err)
	}

	if count == 0 {
		return 0, fmt.Errorf("%w: table %s is empty", etlerr.ErrDataQuality, v.schema.TableName)
	}

	v.logger.Info(fmt.Sprintf("Data quality check passed: %s has %d rows", v.schema.TableName, count))
	return count, nil
}
