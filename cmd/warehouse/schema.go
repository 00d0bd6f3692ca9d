package warehouse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
	"github.com/airframesio/sales-pipeline/cmd/formatters"
)

// DefaultTable is the target table when none is configured
const DefaultTable = "sales_data"

// PostgreSQL limits identifiers to 63 bytes
const maxIdentifierLength = 63

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidTableName reports whether name is a plain PostgreSQL identifier
func ValidTableName(name string) bool {
	return len(name) > 0 && len(name) <= maxIdentifierLength && validIdentifier.MatchString(name)
}

// ColumnInfo describes one table column and how its CSV text is parsed
type ColumnInfo struct {
	Name     string
	DataType string
	parse    func(string) (any, error)
}

// TableSchema is the layout of the target table
type TableSchema struct {
	TableName string
	Columns   []ColumnInfo
}

// AggregateSchema returns the layout of the aggregated sales table
func AggregateSchema(table string) *TableSchema {
	return &TableSchema{
		TableName: table,
		Columns: []ColumnInfo{
			{Name: "PRODUCTLINE", DataType: "text", parse: func(s string) (any, error) { return s, nil }},
			{Name: "TOTAL_SALES_AMOUNT", DataType: "double precision", parse: func(s string) (any, error) {
				return strconv.ParseFloat(strings.TrimSpace(s), 64)
			}},
			{Name: "NUM_TRANSACTIONS", DataType: "bigint", parse: func(s string) (any, error) {
				return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			}},
		},
	}
}

// ColumnNames returns the column names in table order
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// DropTableSQL returns the statement removing the table if present
func (s *TableSchema) DropTableSQL() string {
	return "DROP TABLE IF EXISTS " + pq.QuoteIdentifier(s.TableName)
}

// CreateTableSQL returns the CREATE TABLE statement for the schema
func (s *TableSchema) CreateTableSQL() string {
	defs := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		defs[i] = pq.QuoteIdentifier(col.Name) + " " + col.DataType
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", pq.QuoteIdentifier(s.TableName), strings.Join(defs, ", "))
}

// CountSQL returns the row count query for the table
func (s *TableSchema) CountSQL() string {
	return "SELECT COUNT(*) FROM " + pq.QuoteIdentifier(s.TableName)
}

// CheckHeader verifies a CSV header matches the columns exactly and in order
func (s *TableSchema) CheckHeader(headers []string) error {
	want := s.ColumnNames()
	if len(headers) != len(want) {
		return fmt.Errorf("%w: header has %d columns, table %s has %d", etlerr.ErrSchema, len(headers), s.TableName, len(want))
	}
	for i := range want {
		if headers[i] != want[i] {
			return fmt.Errorf("%w: column %d is %q, expected %q", etlerr.ErrSchema, i+1, headers[i], want[i])
		}
	}
	return nil
}

// ParseRow converts one CSV row into typed column values
func (s *TableSchema) ParseRow(row formatters.Row) ([]any, error) {
	if row.Len() != len(s.Columns) {
		return nil, fmt.Errorf("%w: line %d has %d fields, expected %d", etlerr.ErrSchema, row.Line, row.Len(), len(s.Columns))
	}

	values := make([]any, len(s.Columns))
	for i, col := range s.Columns {
		raw := row.Get(col.Name)
		v, err := col.parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d column %s: %q is not %s", etlerr.ErrSchema, row.Line, col.Name, raw, col.DataType)
		}
		values[i] = v
	}
	return values, nil
}
