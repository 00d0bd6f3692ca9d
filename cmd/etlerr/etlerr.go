// Package etlerr defines the error kinds raised by pipeline stages.
//
// Every stage wraps its failures with exactly one of the sentinel errors below, so a
// caller can branch on the condition class with errors.Is or KindOf instead of
// parsing messages.
package etlerr

import "errors"

// Kind classifies a stage failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransfer
	KindNoMatchingObjects
	KindInputFileMissing
	KindMalformedInput
	KindConnection
	KindSchema
	KindLoad
	KindDataQuality
)

// Sentinel errors, one per kind
var (
	ErrTransfer          = errors.New("transfer error")
	ErrNoMatchingObjects = errors.New("no matching objects")
	ErrInputFileMissing  = errors.New("input file missing")
	ErrMalformedInput    = errors.New("malformed input")
	ErrConnection        = errors.New("connection error")
	ErrSchema            = errors.New("schema error")
	ErrLoad              = errors.New("load error")
	ErrDataQuality       = errors.New("data quality error")
)

var kinds = []struct {
	kind Kind
	err  error
	name string
}{
	{KindTransfer, ErrTransfer, "TransferError"},
	{KindNoMatchingObjects, ErrNoMatchingObjects, "NoMatchingObjects"},
	{KindInputFileMissing, ErrInputFileMissing, "InputFileMissing"},
	{KindMalformedInput, ErrMalformedInput, "MalformedInput"},
	{KindConnection, ErrConnection, "ConnectionError"},
	{KindSchema, ErrSchema, "SchemaError"},
	{KindLoad, ErrLoad, "LoadError"},
	{KindDataQuality, ErrDataQuality, "DataQualityError"},
}

// KindOf returns the kind of the first sentinel found in err's chain
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	for _, entry := range kinds {
		if entry.kind == k {
			return entry.name
		}
	}
	return "Unknown"
}

// MarshalText lets reports carry the kind name instead of the number.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
