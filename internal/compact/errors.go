package compact

import "fmt"

// MigrationBatchFailure reports a migration window that could not be
// committed. Windows before it are committed and checkpointed; retrying the
// migration resumes at the failed window.
type MigrationBatchFailure struct {
	JobID      string
	WindowFrom int64
	WindowTo   int64
	Err        error
}

func (e *MigrationBatchFailure) Error() string {
	return fmt.Sprintf("migration job %s: window [%d, %d) failed: %v",
		e.JobID, e.WindowFrom, e.WindowTo, e.Err)
}

func (e *MigrationBatchFailure) Unwrap() error {
	return e.Err
}
