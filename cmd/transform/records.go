package transform

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
)

// Source columns
const (
	ColumnState       = "STATE"
	ColumnPostalCode  = "POSTALCODE"
	ColumnOrderDate   = "ORDERDATE"
	ColumnProductLine = "PRODUCTLINE"
	ColumnSales       = "SALES"
)

// RequiredColumns must all appear in the input header
var RequiredColumns = []string{ColumnState, ColumnPostalCode, ColumnOrderDate, ColumnProductLine, ColumnSales}

// Missing is substituted for an absent state or postal code
const Missing = "NA"

// OrderDateLayout is the output format of cleaned order dates (MM/DD/YYYY)
const OrderDateLayout = "01/02/2006"

// orderDateLayouts are tried in order; the first that parses wins
var orderDateLayouts = []string{
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006",
	"1/2/06 15:04",
	"1/2/06",
	"2006-01-02",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
	time.RFC3339Nano,
	"2006/01/02",
}

// RawRecord is one source row. Empty strings mean missing.
type RawRecord struct {
	State       string
	PostalCode  string
	OrderDate   string
	ProductLine string
	Sales       string
}

// CleanedRecord is a RawRecord after normalization.
// OrderDate is empty when the raw value could not be parsed.
type CleanedRecord struct {
	State       string
	PostalCode  string
	OrderDate   string
	ProductLine string
	Sales       *big.Rat
}

// ParseOrderDate tries each known layout against s
func ParseOrderDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range orderDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseSales parses a sales value exactly. NaN, infinities and fractions are rejected.
func ParseSales(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty sales value", etlerr.ErrMalformedInput)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || strings.Contains(s, "/") {
		return nil, fmt.Errorf("%w: sales value %q is not numeric", etlerr.ErrMalformedInput, s)
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%w: sales value %q is not numeric", etlerr.ErrMalformedInput, s)
	}
	return r, nil
}

// CleanProductLine upper-cases a product line. An empty line stays its own group.
func CleanProductLine(s string) string {
	return strings.ToUpper(s)
}

// Clean normalizes a raw record. Only a bad sales value is an error.
func Clean(raw RawRecord) (CleanedRecord, error) {
	sales, err := ParseSales(raw.Sales)
	if err != nil {
		return CleanedRecord{}, err
	}

	rec := CleanedRecord{
		State:       raw.State,
		PostalCode:  raw.PostalCode,
		ProductLine: CleanProductLine(raw.ProductLine),
		Sales:       sales,
	}
	// Only absent values are defaulted; whitespace is a present value
	if rec.State == "" {
		rec.State = Missing
	}
	if rec.PostalCode == "" {
		rec.PostalCode = Missing
	}
	if t, ok := ParseOrderDate(raw.OrderDate); ok {
		rec.OrderDate = t.Format(OrderDateLayout)
	}
	return rec, nil
}
