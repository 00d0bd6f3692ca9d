package gateway

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeStore struct {
	objects    map[string][]byte
	listErr    error
	failKey    string
	downloaded []string
}

func (f *fakeStore) ListKeys(_ context.Context, _ string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeStore) Download(_ context.Context, _, key string, w io.WriterAt) error {
	if key == f.failKey {
		return errors.New("connection reset by peer")
	}
	f.downloaded = append(f.downloaded, key)
	_, err := w.WriteAt(f.objects[key], 0)
	return err
}

func TestFetchAllFiltersBySuffix(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"raw/sales_data_sample.csv": []byte("a,b\n"),
		"raw/readme.txt":            []byte("ignore"),
		"raw/UPPER.CSV":             []byte("case-sensitive"),
		"other.csv":                 []byte("c,d\n"),
	}}
	dir := filepath.Join(t.TempDir(), "staging")

	g := New(store, newTestLogger())
	result, err := g.FetchAll(context.Background(), "bucket", dir, ".csv")
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	if result.Count != 2 {
		t.Fatalf("expected 2 files, got %d", result.Count)
	}
	if result.Dir != dir {
		t.Errorf("expected dir %s, got %s", dir, result.Dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sales_data_sample.csv"))
	if err != nil {
		t.Fatalf("expected file named after last key segment: %v", err)
	}
	if string(data) != "a,b\n" {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := os.Stat(filepath.Join(dir, "UPPER.CSV")); !os.IsNotExist(err) {
		t.Error("suffix match must be case-sensitive")
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "*.part")); len(matches) != 0 {
		t.Errorf("leftover part files: %v", matches)
	}
}

func TestFetchAllDefaultSuffix(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"x.csv": []byte("1")}}
	result, err := New(store, newTestLogger()).FetchAll(context.Background(), "b", t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Count != 1 {
		t.Fatalf("expected 1 file, got %d", result.Count)
	}
}

func TestFetchAllCollisionOverwrites(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"2023/data.csv": []byte("old"),
		"2024/data.csv": []byte("new"),
	}}
	dir := t.TempDir()

	result, err := New(store, newTestLogger()).FetchAll(context.Background(), "b", dir, ".csv")
	if err != nil {
		t.Fatal(err)
	}
	if result.Count != 2 || len(result.Files) != 1 {
		t.Fatalf("expected 2 downloads into 1 file, got %+v", result)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "data.csv"))
	if string(data) != "new" {
		t.Fatalf("expected last download to win, got %q", data)
	}
}

func TestFetchAllNoMatchingObjects(t *testing.T) {
	tests := []struct {
		name    string
		objects map[string][]byte
	}{
		{"empty bucket", map[string][]byte{}},
		{"no csv keys", map[string][]byte{"a.json": nil, "b.txt": nil}},
		{"directory marker only", map[string][]byte{"dir.csv/": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{objects: tt.objects}
			_, err := New(store, newTestLogger()).FetchAll(context.Background(), "b", t.TempDir(), ".csv")
			if !errors.Is(err, etlerr.ErrNoMatchingObjects) {
				t.Fatalf("expected ErrNoMatchingObjects, got %v", err)
			}
			if !IsNoMatchingObjects(err) {
				t.Fatal("IsNoMatchingObjects should report true")
			}
		})
	}
}

func TestFetchAllFailFast(t *testing.T) {
	store := &fakeStore{
		objects: map[string][]byte{
			"a.csv": []byte("1"),
			"b.csv": []byte("2"),
			"c.csv": []byte("3"),
		},
		failKey: "b.csv",
	}
	dir := t.TempDir()

	_, err := New(store, newTestLogger()).FetchAll(context.Background(), "b", dir, ".csv")
	if !errors.Is(err, etlerr.ErrTransfer) {
		t.Fatalf("expected ErrTransfer, got %v", err)
	}
	if etlerr.KindOf(err) != etlerr.KindTransfer {
		t.Fatalf("unexpected kind %v", etlerr.KindOf(err))
	}

	if len(store.downloaded) != 1 || store.downloaded[0] != "a.csv" {
		t.Fatalf("expected abort after first failure, downloaded %v", store.downloaded)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.csv.part")); !os.IsNotExist(err) {
		t.Error("failed download left a part file")
	}
}

func TestFetchAllListError(t *testing.T) {
	store := &fakeStore{listErr: errors.New("access denied")}
	_, err := New(store, newTestLogger()).FetchAll(context.Background(), "b", t.TempDir(), ".csv")
	if !errors.Is(err, etlerr.ErrTransfer) {
		t.Fatalf("expected ErrTransfer, got %v", err)
	}
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetchAllDecompression(t *testing.T) {
	payload := []byte("STATE,SALES\nNY,1\n")
	store := &fakeStore{objects: map[string][]byte{
		"exports/sales_data_sample.csv.gz": gzipBytes(t, payload),
		"exports/notes.txt.gz":             gzipBytes(t, []byte("x")),
	}}

	t.Run("disabled", func(t *testing.T) {
		_, err := New(store, newTestLogger()).FetchAll(context.Background(), "b", t.TempDir(), ".csv")
		if !errors.Is(err, etlerr.ErrNoMatchingObjects) {
			t.Fatalf("compressed keys must not match without decompression, got %v", err)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		dir := t.TempDir()
		result, err := New(store, newTestLogger(), WithDecompression(true)).FetchAll(context.Background(), "b", dir, ".csv")
		if err != nil {
			t.Fatal(err)
		}
		if result.Count != 1 {
			t.Fatalf("expected 1 file, got %d", result.Count)
		}
		data, err := os.ReadFile(filepath.Join(dir, "sales_data_sample.csv"))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, payload) {
			t.Fatalf("unexpected decompressed content %q", data)
		}
		if _, err := os.Stat(filepath.Join(dir, "sales_data_sample.csv.gz.part")); !os.IsNotExist(err) {
			t.Error("raw download was not cleaned up")
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		bad := &fakeStore{objects: map[string][]byte{"bad.csv.gz": []byte("not gzip")}}
		_, err := New(bad, newTestLogger(), WithDecompression(true)).FetchAll(context.Background(), "b", t.TempDir(), ".csv")
		if !errors.Is(err, etlerr.ErrTransfer) {
			t.Fatalf("expected ErrTransfer, got %v", err)
		}
	})
}
