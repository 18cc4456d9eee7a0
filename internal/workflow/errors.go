package workflow

import (
	"errors"
	"fmt"

	"castline/internal/store"
)

// ErrUnitNotFound is returned when an operation names an unknown unit.
var ErrUnitNotFound = errors.New("unit not found")

// InvalidStateError reports an operation the unit's current status does not allow.
type InvalidStateError struct {
	UnitID    int64
	Operation string
	Status    store.Status
	Reason    string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("unit %d: cannot %s while %s", e.UnitID, e.Operation, e.Status)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}
