package stageexec

import (
	"fmt"

	"castline/internal/store"
)

// PreconditionError reports a stage requested before its dependency completed.
type PreconditionError struct {
	UnitID   int64
	Stage    string
	Required store.Status
	Current  store.Status
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("unit %d: stage %s requires status %s, unit is at %s", e.UnitID, e.Stage, e.Required, e.Current)
}

// StageFailedError is returned when a handler fails. Its text matches the
// error message stored on the unit.
type StageFailedError struct {
	UnitID  int64
	Stage   string
	Message string
	Err     error
}

func (e *StageFailedError) Error() string {
	return e.Stage + ": " + e.Message
}

func (e *StageFailedError) Unwrap() error {
	return e.Err
}
