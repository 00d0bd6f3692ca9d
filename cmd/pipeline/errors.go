package pipeline

import (
	"fmt"

	"github.com/airframesio/sales-pipeline/cmd/etlerr"
)

// StageError reports a stage that exhausted its attempts
type StageError struct {
	Stage    Stage
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Kind returns the error kind of the underlying failure
func (e *StageError) Kind() etlerr.Kind {
	return etlerr.KindOf(e.Err)
}
