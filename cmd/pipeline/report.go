package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
)

// Report is the stage-tagged outcome of a run
type Report struct {
	RunID         string        `json:"run_id"`
	State         State         `json:"state"`
	Stage         Stage         `json:"stage,omitempty"`
	ErrorKind     etlerr.Kind   `json:"error_kind,omitempty"`
	Error         string        `json:"error,omitempty"`
	Attempts      map[Stage]int `json:"attempts"`
	FilesFetched  int           `json:"files_fetched"`
	AggregatePath string        `json:"aggregate_path,omitempty"`
	AggregateRows int           `json:"aggregate_rows"`
	SourceRows    int           `json:"source_rows"`
	RowsLoaded    int64         `json:"rows_loaded"`
	RowsValidated int64         `json:"rows_validated"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Succeeded reports whether the run completed every stage
func (r *Report) Succeeded() bool {
	return r.State == StateSucceeded
}

// Duration returns the wall time of the run
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func newReport(state *RunState, started, finished time.Time) *Report {
	report := &Report{
		RunID:         state.RunID,
		State:         state.State,
		Attempts:      make(map[Stage]int, len(state.Attempts)),
		FilesFetched:  state.Fetched.Count,
		AggregatePath: state.Aggregate.Path,
		AggregateRows: state.Aggregate.Rows,
		SourceRows:    state.Aggregate.SourceRows,
		RowsLoaded:    state.RowsLoaded,
		RowsValidated: state.RowsValidated,
		StartedAt:     started,
		FinishedAt:    finished,
	}
	for stage, n := range state.Attempts {
		report.Attempts[stage] = n
	}
	if state.State == StateFailed {
		report.Stage = state.FailedStage
		if state.Cause != nil {
			report.Error = state.Cause.Error()
			report.ErrorKind = etlerr.KindOf(state.Cause)
		}
	}
	return report
}

// WriteFile writes the report as indented JSON, replacing path atomically
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')

	tmpPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
