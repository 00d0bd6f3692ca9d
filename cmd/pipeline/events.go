package pipeline

import "time"

// EventType identifies a runner lifecycle event
type EventType int

const (
	EventRunStarted EventType = iota
	EventStageStarted
	EventAttemptFailed
	EventStageSucceeded
	EventStageFailed
	EventRunFinished
)

func (t EventType) String() string {
	switch t {
	case EventRunStarted:
		return "run_started"
	case EventStageStarted:
		return "stage_started"
	case EventAttemptFailed:
		return "attempt_failed"
	case EventStageSucceeded:
		return "stage_succeeded"
	case EventStageFailed:
		return "stage_failed"
	case EventRunFinished:
		return "run_finished"
	}
	return "unknown"
}

// Event is delivered to observers synchronously from the runner
type Event struct {
	Type        EventType
	RunID       string
	Time        time.Time
	Stage       Stage
	State       State
	Attempt     int
	MaxAttempts int
	Duration    time.Duration
	Err         error
	// Set on EventRunFinished only
	Report *Report
}

// Observer receives runner events. Observers must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// OnEvent calls f(e)
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}
