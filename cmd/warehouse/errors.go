package warehouse

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
)

// isConnectionError checks if the error is a connection-related error
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "bad connection") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "sql: database is closed")
}

// classify wraps a database error with its etlerr kind.
// SQLSTATE class 08 is a connection exception, 22 a data exception and 42 a
// syntax or access rule violation.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08":
			return fmt.Errorf("%w: %s: %w", etlerr.ErrConnection, op, err)
		case "22", "42":
			return fmt.Errorf("%w: %s: %w", etlerr.ErrSchema, op, err)
		}
		return fmt.Errorf("%w: %s: %w", etlerr.ErrLoad, op, err)
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %s: %w", etlerr.ErrConnection, op, err)
	}
	return fmt.Errorf("%w: %s: %w", etlerr.ErrLoad, op, err)
}
