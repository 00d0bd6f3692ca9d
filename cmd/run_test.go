package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
	"github.com/airframesio/sales-pipeline/cmd/gateway"
	"github.com/airframesio/sales-pipeline/cmd/pipeline"
	"github.com/airframesio/sales-pipeline/cmd/transform"
)

type fakeExtractor struct{ err error }

func (f *fakeExtractor) FetchAll(_ context.Context, _, localDir, _ string) (gateway.FetchResult, error) {
	if f.err != nil {
		return gateway.FetchResult{}, f.err
	}
	return gateway.FetchResult{Dir: localDir, Files: []string{"sales_data_sample.csv"}, Count: 1}, nil
}

type fakeTransformer struct{}

func (fakeTransformer) Transform(_ context.Context, localDir string) (transform.AggregateFile, error) {
	return transform.AggregateFile{Path: filepath.Join(localDir, "aggregated_sales_data.csv"), Rows: 2, SourceRows: 3}, nil
}

type fakeLoader struct {
	calls int
	err   error
}

func (f *fakeLoader) Load(context.Context, string) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

type fakeValidator struct{}

func (fakeValidator) ValidateNonEmpty(context.Context) (int64, error) {
	return 2, nil
}

// setupRun points viper, HOME and the stage factory at test doubles
func setupRun(t *testing.T, stages pipeline.StageSet) string {
	t.Helper()
	home := withTempHome(t)

	viper.Reset()
	t.Cleanup(viper.Reset)

	original := newStages
	newStages = func(*Config, *slog.Logger) (pipeline.StageSet, func() error, error) {
		return stages, nil, nil
	}
	t.Cleanup(func() { newStages = original })

	signalContext = context.Background()
	t.Cleanup(func() { signalContext = nil })

	values := map[string]any{
		"log_format":          "text",
		"pipeline.name":       "sales",
		"db.host":             "localhost",
		"db.port":             5432,
		"db.user":             "etl",
		"db.name":             "reporting",
		"db.table":            "sales_data",
		"s3.bucket":           "raw-sales",
		"s3.access_key":       "access",
		"s3.secret_key":       "secret",
		"s3.region":           "auto",
		"staging.dir":         filepath.Join(home, "staging"),
		"staging.suffix":      ".csv",
		"staging.input_file":  transform.DefaultInputFile,
		"staging.output_file": transform.DefaultOutputFile,
		"retry.attempts":      2,
		"retry.delay":         "0s",
		"report_file":         filepath.Join(home, "report.json"),
	}
	for key, value := range values {
		viper.Set(key, value)
	}
	return home
}

func defaultFakeStages() pipeline.StageSet {
	return pipeline.StageSet{
		Extractor:   &fakeExtractor{},
		Transformer: fakeTransformer{},
		Loader:      &fakeLoader{},
		Validator:   fakeValidator{},
	}
}

func readReport(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	var report map[string]any
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("invalid report JSON: %v", err)
	}
	return report
}

func TestRunPipelineSuccess(t *testing.T) {
	home := setupRun(t, defaultFakeStages())

	var out bytes.Buffer
	if code := runPipeline(&out); code != exitSuccess {
		t.Fatalf("expected exit %d, got %d\n%s", exitSuccess, code, out.String())
	}
	if !strings.Contains(out.String(), "Pipeline completed successfully") {
		t.Errorf("missing success line in output:\n%s", out.String())
	}

	report := readReport(t, filepath.Join(home, "report.json"))
	if report["state"] != "Succeeded" {
		t.Errorf("expected Succeeded report, got %v", report["state"])
	}
	if report["rows_loaded"] != float64(2) {
		t.Errorf("expected 2 rows loaded, got %v", report["rows_loaded"])
	}

	status, err := ReadStatus("sales")
	if err != nil {
		t.Fatalf("failed to read status: %v", err)
	}
	if status.State != pipeline.StateSucceeded || status.RowsLoaded != 2 {
		t.Errorf("unexpected status %+v", status)
	}

	if _, err := ReadPIDFile("sales"); err == nil {
		t.Error("run lock should be released after the run")
	}
}

func TestRunPipelineStageFailure(t *testing.T) {
	loader := &fakeLoader{err: fmt.Errorf("%w: copy failed", etlerr.ErrLoad)}
	stages := defaultFakeStages()
	stages.Loader = loader
	home := setupRun(t, stages)

	var out bytes.Buffer
	if code := runPipeline(&out); code != exitFailure {
		t.Fatalf("expected exit %d, got %d", exitFailure, code)
	}
	if loader.calls != 2 {
		t.Errorf("expected 2 load attempts, got %d", loader.calls)
	}
	if !strings.Contains(out.String(), "Pipeline failed") || !strings.Contains(out.String(), "stage load") {
		t.Errorf("failure log should name the stage:\n%s", out.String())
	}

	report := readReport(t, filepath.Join(home, "report.json"))
	if report["state"] != "Failed" || report["stage"] != "load" || report["error_kind"] != "LoadError" {
		t.Errorf("unexpected report %v", report)
	}
}

func TestRunPipelineNoMatchingObjects(t *testing.T) {
	stages := defaultFakeStages()
	stages.Extractor = &fakeExtractor{err: fmt.Errorf("%w: bucket raw-sales", etlerr.ErrNoMatchingObjects)}
	loader := &fakeLoader{}
	stages.Loader = loader
	setupRun(t, stages)

	var out bytes.Buffer
	if code := runPipeline(&out); code != exitFailure {
		t.Fatalf("expected exit %d, got %d", exitFailure, code)
	}
	if loader.calls != 0 {
		t.Fatal("loader must not run when nothing was fetched")
	}
	if !strings.Contains(out.String(), "nothing to process in s3://raw-sales") {
		t.Errorf("expected empty-bucket message:\n%s", out.String())
	}
}

func TestRunPipelineInvalidConfig(t *testing.T) {
	setupRun(t, defaultFakeStages())
	viper.Set("s3.bucket", "")

	var out bytes.Buffer
	if code := runPipeline(&out); code != exitFailure {
		t.Fatalf("expected exit %d, got %d", exitFailure, code)
	}
	if !strings.Contains(out.String(), ErrS3BucketRequired.Error()) {
		t.Errorf("expected configuration error in output:\n%s", out.String())
	}
}

func TestRunPipelineLockHeld(t *testing.T) {
	setupRun(t, defaultFakeStages())

	lock, err := AcquireRunLock("sales")
	if err != nil {
		t.Fatalf("failed to take lock: %v", err)
	}
	defer lock.Release()

	var out bytes.Buffer
	if code := runPipeline(&out); code != exitFailure {
		t.Fatalf("expected exit %d, got %d", exitFailure, code)
	}
	if !strings.Contains(out.String(), ErrRunInProgress.Error()) {
		t.Errorf("expected lock error in output:\n%s", out.String())
	}
}

func TestRunPipelineCancelled(t *testing.T) {
	setupRun(t, defaultFakeStages())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	signalContext = ctx

	var out bytes.Buffer
	if code := runPipeline(&out); code != exitInterrupted {
		t.Fatalf("expected exit %d, got %d", exitInterrupted, code)
	}
	if !strings.Contains(out.String(), "cancelled") {
		t.Errorf("expected cancellation notice:\n%s", out.String())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitSuccess},
		{"stage failure", &pipeline.StageError{Stage: pipeline.StageLoad, Attempts: 2, Err: etlerr.ErrLoad}, exitFailure},
		{"cancelled", &pipeline.StageError{Stage: pipeline.StageTransform, Err: context.Canceled}, exitInterrupted},
		{"cancelled during delay", errors.Join(context.Canceled, etlerr.ErrTransfer), exitInterrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConfigFromViper(t *testing.T) {
	v := viper.New()
	v.Set("pipeline.name", "nightly")
	v.Set("retry.attempts", 3)
	v.Set("retry.delay", "30s")
	v.Set("staging.decompress", true)
	v.Set("db.table", "sales_summary")

	cfg := configFromViper(v)
	if cfg.PipelineName != "nightly" || cfg.Database.Table != "sales_summary" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.Delay.String() != "30s" {
		t.Errorf("unexpected retry config %+v", cfg.Retry)
	}
	if !cfg.Staging.Decompress {
		t.Error("expected decompression enabled")
	}
	if policy := cfg.RetryPolicy(); policy.Attempts != 3 {
		t.Errorf("unexpected policy %+v", policy)
	}
}

func TestUseTUI(t *testing.T) {
	cfg := validConfig()
	cfg.LogFormat = "text"
	if useTUI(cfg, &bytes.Buffer{}) {
		t.Error("a buffer is never a terminal")
	}

	cfg.Debug = true
	if useTUI(cfg, os.Stdout) {
		t.Error("debug mode always logs plainly")
	}
}

func TestLogHandlers(t *testing.T) {
	t.Run("text only", func(t *testing.T) {
		var buf bytes.Buffer
		slog.New(newLogHandler(&buf, false, "text")).Info("hello", "key", "value")
		if !strings.Contains(buf.String(), "INFO hello") || strings.Contains(buf.String(), "key=") {
			t.Errorf("unexpected text output %q", buf.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		slog.New(newLogHandler(&buf, false, "json")).Info("hello")
		var record map[string]any
		if err := json.Unmarshal(buf.Bytes(), &record); err != nil || record["msg"] != "hello" {
			t.Errorf("unexpected json output %q", buf.String())
		}
	})

	t.Run("debug level", func(t *testing.T) {
		var buf bytes.Buffer
		slog.New(newLogHandler(&buf, false, "logfmt")).Debug("hidden")
		if buf.Len() != 0 {
			t.Errorf("debug record should be dropped, got %q", buf.String())
		}
		slog.New(newLogHandler(&buf, true, "logfmt")).Debug("shown")
		if !strings.Contains(buf.String(), "msg=shown") {
			t.Errorf("unexpected logfmt output %q", buf.String())
		}
	})

	t.Run("forwarding", func(t *testing.T) {
		var buf bytes.Buffer
		var lines []string
		handler := newForwardLogHandler(newLogHandler(&buf, false, "text"), func(line string) {
			lines = append(lines, line)
		})
		slog.New(handler).With("stage", "load").Info("Loaded 2 rows")
		if len(lines) != 1 || !strings.HasSuffix(lines[0], "Loaded 2 rows") {
			t.Errorf("unexpected forwarded lines %v", lines)
		}
		if !strings.Contains(buf.String(), "Loaded 2 rows") {
			t.Error("wrapped handler should still receive the record")
		}
	})
}
