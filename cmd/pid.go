package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/airframesio/sales-pipeline/cmd/pipeline"
)

// ErrRunInProgress is returned when another live process holds the run lock
var ErrRunInProgress = errors.New("another run of this pipeline is in progress")

// StatusInfo is the operator-facing snapshot of a run
type StatusInfo struct {
	PID         int            `json:"pid"`
	RunID       string         `json:"run_id"`
	Pipeline    string         `json:"pipeline"`
	StartTime   time.Time      `json:"start_time"`
	Bucket      string         `json:"bucket"`
	Table       string         `json:"table"`
	State       pipeline.State `json:"state"`
	Stage       pipeline.Stage `json:"stage,omitempty"`
	Attempt     int            `json:"attempt,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	RowsLoaded  int64          `json:"rows_loaded,omitempty"`
	LastUpdate  time.Time      `json:"last_update"`
}

// GetStateDir returns the directory holding lock and status files
func GetStateDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".sales-pipeline")
}

// GetPIDFilePath returns the run lock path for a pipeline
func GetPIDFilePath(pipelineName string) string {
	return filepath.Join(GetStateDir(), pipelineName+".pid")
}

// GetStatusFilePath returns the status file path for a pipeline
func GetStatusFilePath(pipelineName string) string {
	return filepath.Join(GetStateDir(), pipelineName+".status.json")
}

// RunLock is an exclusive per-pipeline lock held with flock(2) on a file that
// also records the holder's PID
type RunLock struct {
	path string
	file *os.File
}

// AcquireRunLock takes the pipeline's lock without blocking. The kernel drops the
// lock when its holder exits, so a PID left behind by a dead run is just overwritten.
func AcquireRunLock(pipelineName string) (*RunLock, error) {
	pidPath := GetPIDFilePath(pipelineName)
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// The file is never removed, so every contender locks the same inode
	file, err := os.OpenFile(pidPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("failed to lock %s: %w", pidPath, err)
		}
		if pid, readErr := ReadPIDFile(pipelineName); readErr == nil {
			return nil, fmt.Errorf("%w (pid %d, lock %s)", ErrRunInProgress, pid, pidPath)
		}
		return nil, fmt.Errorf("%w (lock %s)", ErrRunInProgress, pidPath)
	}

	lock := &RunLock{path: pidPath, file: file}
	if err := file.Truncate(0); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to write lock file: %w", err), lock.Release())
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to write lock file: %w", err), lock.Release())
	}
	return lock, nil
}

// Release clears the recorded PID and drops the lock. Calling it twice is harmless.
func (l *RunLock) Release() error {
	if l.file == nil {
		return nil
	}
	truncErr := l.file.Truncate(0)
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(truncErr, unlockErr, closeErr)
}

// ReadPIDFile reads the PID from a pipeline's lock file
func ReadPIDFile(pipelineName string) (int, error) {
	data, err := os.ReadFile(GetPIDFilePath(pipelineName))
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// IsProcessRunning checks if a process with given PID is running
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 performs error checking only
	return process.Signal(syscall.Signal(0)) == nil
}

// WriteStatus writes the status snapshot for info.Pipeline
func WriteStatus(info *StatusInfo) error {
	statusPath := GetStatusFilePath(info.Pipeline)
	dir := filepath.Dir(statusPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	info.LastUpdate = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	tmpPath := statusPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, statusPath)
}

// ReadStatus reads the status snapshot of a pipeline
func ReadStatus(pipelineName string) (*StatusInfo, error) {
	data, err := os.ReadFile(GetStatusFilePath(pipelineName))
	if err != nil {
		return nil, err
	}

	var info StatusInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}

	return &info, nil
}

// statusWriter mirrors runner events into the status file
type statusWriter struct {
	info   *StatusInfo
	onFail func(error)
}

func newStatusWriter(cfg *Config, runID string, onFail func(error)) *statusWriter {
	return &statusWriter{
		info: &StatusInfo{
			PID:       os.Getpid(),
			RunID:     runID,
			Pipeline:  cfg.PipelineName,
			StartTime: time.Now(),
			Bucket:    cfg.S3.Bucket,
			Table:     cfg.Database.Table,
			State:     pipeline.StateIdle,
		},
		onFail: onFail,
	}
}

func (w *statusWriter) OnEvent(e pipeline.Event) {
	w.info.State = e.State
	switch e.Type {
	case pipeline.EventRunStarted:
		w.info.StartTime = e.Time
	case pipeline.EventStageStarted:
		w.info.Stage = e.Stage
		w.info.Attempt = e.Attempt
		w.info.MaxAttempts = e.MaxAttempts
	case pipeline.EventAttemptFailed, pipeline.EventStageFailed:
		if e.Err != nil {
			w.info.LastError = e.Err.Error()
		}
	case pipeline.EventRunFinished:
		if e.Report != nil {
			w.info.RowsLoaded = e.Report.RowsLoaded
			w.info.Stage = e.Report.Stage
		}
	}

	if err := WriteStatus(w.info); err != nil && w.onFail != nil {
		w.onFail(err)
	}
}
