package rollback

import (
	"fmt"

	"github.com/driftmarkets/candleledger/internal/model"
)

// RunActiveError reports a rollback attempt against a run that has not
// finished. Only Completed and Failed runs can be rolled back.
type RunActiveError struct {
	RunID  string
	Status model.RunStatus
}

func (e *RunActiveError) Error() string {
	return fmt.Sprintf("run %s is %s and cannot be rolled back", e.RunID, e.Status)
}

// AlreadyRolledBackError reports a rollback of a run that was rolled back
// before.
type AlreadyRolledBackError struct {
	RunID string
}

func (e *AlreadyRolledBackError) Error() string {
	return fmt.Sprintf("run %s is already rolled back", e.RunID)
}
