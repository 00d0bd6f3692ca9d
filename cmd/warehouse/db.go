// Package warehouse replaces the aggregated sales table in PostgreSQL and checks
// the result.
package warehouse

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// DBOptions holds PostgreSQL connection settings
type DBOptions struct {
	Host             string
	Port             int
	User             string
	Password         string
	Name             string
	SSLMode          string
	StatementTimeout int // seconds, 0 disables
}

// quoteConnValue quotes a keyword/value connection string value
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// ConnString builds a lib/pq keyword/value connection string
func (o DBOptions) ConnString() string {
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteConnValue(o.Host), o.Port, quoteConnValue(o.User), quoteConnValue(o.Password),
		quoteConnValue(o.Name), sslMode)

	if o.StatementTimeout > 0 {
		connStr += fmt.Sprintf(" statement_timeout=%d", o.StatementTimeout*1000)
	}
	return connStr
}

// Open creates a connection pool without connecting. Reachability is checked by
// the loader so that an unreachable server fails (and retries) the load stage.
func Open(opts DBOptions) (*sql.DB, error) {
	db, err := sql.Open("postgres", opts.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(2)
	return db, nil
}
