package pipeline

import (
	"fmt"

	"github.com/airframesio/sales-pipeline/cmd/gateway"
	"github.com/airframesio/sales-pipeline/cmd/transform"
)

// State is the position of a run in the stage sequence
type State int

const (
	StateIdle State = iota
	StateExtracting
	StateTransforming
	StateLoading
	StateValidating
	StateSucceeded
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:         "Idle",
	StateExtracting:   "Extracting",
	StateTransforming: "Transforming",
	StateLoading:      "Loading",
	StateValidating:   "Validating",
	StateSucceeded:    "Succeeded",
	StateFailed:       "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Stage identifies one of the four pipeline steps
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
	StageValidate  Stage = "validate"
)

// Stages lists every stage in execution order
var Stages = []Stage{StageExtract, StageTransform, StageLoad, StageValidate}

// State returns the working state a run is in while the stage executes
func (s Stage) State() State {
	switch s {
	case StageExtract:
		return StateExtracting
	case StageTransform:
		return StateTransforming
	case StageLoad:
		return StateLoading
	case StageValidate:
		return StateValidating
	}
	return StateIdle
}

// RunState is the mutable bookkeeping of a single run. It lives only as long as
// the run; each stage's output is recorded here and passed to the next.
type RunState struct {
	RunID    string
	State    State
	Stage    Stage
	Attempts map[Stage]int

	Fetched       gateway.FetchResult
	Aggregate     transform.AggregateFile
	RowsLoaded    int64
	RowsValidated int64

	FailedStage Stage
	Cause       error
}

func newRunState(runID string) *RunState {
	return &RunState{
		RunID:    runID,
		State:    StateIdle,
		Attempts: make(map[Stage]int, len(Stages)),
	}
}

func (s *RunState) enter(stage Stage) {
	s.Stage = stage
	s.State = stage.State()
}

func (s *RunState) fail(stage Stage, cause error) {
	s.State = StateFailed
	s.FailedStage = stage
	s.Cause = cause
}

func (s *RunState) succeed() {
	s.State = StateSucceeded
}
