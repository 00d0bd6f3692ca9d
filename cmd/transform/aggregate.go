package transform

import (
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Output columns
var AggregateHeader = []string{"PRODUCTLINE", "TOTAL_SALES_AMOUNT", "NUM_TRANSACTIONS"}

const amountScale = 10

// AggregateRow summarizes one product line
type AggregateRow struct {
	ProductLine      string
	TotalSalesAmount *big.Rat
	NumTransactions  int64
}

// Aggregate groups records by product line. Sums are exact, so the result does not
// depend on record order. Rows come back sorted by product line.
func Aggregate(records []CleanedRecord) []AggregateRow {
	groups := make(map[string]*AggregateRow)
	for _, rec := range records {
		row, ok := groups[rec.ProductLine]
		if !ok {
			row = &AggregateRow{ProductLine: rec.ProductLine, TotalSalesAmount: new(big.Rat)}
			groups[rec.ProductLine] = row
		}
		row.TotalSalesAmount.Add(row.TotalSalesAmount, rec.Sales)
		row.NumTransactions++
	}

	rows := make([]AggregateRow, 0, len(groups))
	for _, row := range groups {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ProductLine < rows[j].ProductLine
	})
	return rows
}

// FormatAmount renders an amount as a plain decimal without trailing zeros
func FormatAmount(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	s := r.FloatString(amountScale)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Record returns the row as CSV fields in AggregateHeader order
func (r AggregateRow) Record() []string {
	return []string{
		r.ProductLine,
		FormatAmount(r.TotalSalesAmount),
		strconv.FormatInt(r.NumTransactions, 10),
	}
}
