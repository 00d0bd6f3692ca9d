package etlerr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain error", io.EOF, KindUnknown},
		{"bare sentinel", ErrDataQuality, KindDataQuality},
		{"wrapped once", fmt.Errorf("%w: bucket empty", ErrNoMatchingObjects), KindNoMatchingObjects},
		{"wrapped with cause", fmt.Errorf("%w: download a.csv: %w", ErrTransfer, io.ErrUnexpectedEOF), KindTransfer},
		{"double wrapped", fmt.Errorf("stage: %w", fmt.Errorf("%w: bad header", ErrSchema)), KindSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOfKeepsCause(t *testing.T) {
	err := fmt.Errorf("%w: read: %w", ErrMalformedInput, io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("cause should stay reachable through errors.Is")
	}
}

func TestKindString(t *testing.T) {
	if KindLoad.String() != "LoadError" {
		t.Fatalf("unexpected name %q", KindLoad.String())
	}
	if Kind(99).String() != "Unknown" {
		t.Fatalf("unexpected name %q", Kind(99).String())
	}
	text, err := KindConnection.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != "ConnectionError" {
		t.Fatalf("unexpected text %q", text)
	}
}
