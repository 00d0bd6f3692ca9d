package transform

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeInput(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, DefaultInputFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTransformEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, strings.Join([]string{
		"ORDERNUMBER,SALES,ORDERDATE,PRODUCTLINE,STATE,POSTALCODE",
		"10107,100,2/24/2003 0:00,Classic Cars,NY,10022",
		"10121,50,5/7/2003 0:00,classic cars,CA,",
		"10134,30,not-a-date,Vintage,,75508",
	}, "\n")+"\n")

	tr := New(newTestLogger(), Options{})
	out, err := tr.Transform(context.Background(), dir)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	if out.Path != filepath.Join(dir, DefaultOutputFile) {
		t.Errorf("unexpected output path %s", out.Path)
	}
	if out.Rows != 2 || out.SourceRows != 3 {
		t.Errorf("unexpected counts %+v", out)
	}

	data, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	want := "PRODUCTLINE,TOTAL_SALES_AMOUNT,NUM_TRANSACTIONS\nCLASSIC CARS,150,2\nVINTAGE,30,1\n"
	if string(data) != want {
		t.Fatalf("got:\n%s\nwant:\n%s", data, want)
	}

	if tmp, _ := filepath.Glob(filepath.Join(dir, ".aggregate-*")); len(tmp) != 0 {
		t.Errorf("temp files left behind: %v", tmp)
	}
}

func TestTransformDecodesLatin1(t *testing.T) {
	dir := t.TempDir()
	// 0xE9 is é in ISO-8859-1 and invalid on its own in UTF-8
	writeInput(t, dir, "STATE,POSTALCODE,ORDERDATE,PRODUCTLINE,SALES\nQC,H2X,1/1/2004,caf\xe9,10\n")

	out, err := New(newTestLogger(), Options{}).Transform(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(out.Path)
	if !strings.Contains(string(data), "CAFÉ,10,1") {
		t.Fatalf("expected UTF-8 CAFÉ in output, got %q", data)
	}
}

func TestTransformCustomFileNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.csv"), []byte("STATE,POSTALCODE,ORDERDATE,PRODUCTLINE,SALES\n,,,Ships,1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := New(newTestLogger(), Options{InputFile: "in.csv", OutputFile: "out.csv"}).Transform(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(out.Path) != "out.csv" {
		t.Fatalf("unexpected output %s", out.Path)
	}
}

func TestTransformErrors(t *testing.T) {
	header := "STATE,POSTALCODE,ORDERDATE,PRODUCTLINE,SALES\n"
	tests := []struct {
		name    string
		content *string
		want    error
	}{
		{"missing file", nil, etlerr.ErrInputFileMissing},
		{"empty file", ptr(""), etlerr.ErrMalformedInput},
		{"header only", ptr(header), etlerr.ErrMalformedInput},
		{"no sales column", ptr("STATE,POSTALCODE,ORDERDATE,PRODUCTLINE\nNY,1,1/1/2004,Ships\n"), etlerr.ErrMalformedInput},
		{"non-numeric sales", ptr(header + "NY,1,1/1/2004,Ships,ten\n"), etlerr.ErrMalformedInput},
		{"one bad value among good", ptr(header + "NY,1,1/1/2004,Ships,10\nNY,1,1/1/2004,Ships,\n"), etlerr.ErrMalformedInput},
		{"unbalanced quote", ptr(header + "NY,1,1/1/2004,\"Ships,10\n"), etlerr.ErrMalformedInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.content != nil {
				writeInput(t, dir, *tt.content)
			}

			_, err := New(newTestLogger(), Options{}).Transform(context.Background(), dir)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if _, statErr := os.Stat(filepath.Join(dir, DefaultOutputFile)); !os.IsNotExist(statErr) {
				t.Fatal("no aggregate may be written on failure")
			}
		})
	}
}

func TestTransformCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(newTestLogger(), Options{}).Transform(ctx, t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func ptr(s string) *string {
	return &s
}
