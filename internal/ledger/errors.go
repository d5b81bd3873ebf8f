package ledger

import (
	"fmt"

	"github.com/driftmarkets/candleledger/internal/model"
)

// DuplicateRunError reports a StartRun whose ID is already in the ledger.
type DuplicateRunError struct {
	RunID string
}

func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("run %s already exists", e.RunID)
}

// RunNotFoundError reports an operation against an unknown run ID.
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run %s not found", e.RunID)
}

// InvalidTransitionError reports a status change the run lifecycle forbids,
// including stats recorded against a run that is no longer running.
type InvalidTransitionError struct {
	RunID string
	From  model.RunStatus
	To    model.RunStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("run %s cannot transition from %s to %s", e.RunID, e.From, e.To)
}
