package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrVisibilityTimeout means a produced object never became queryable within
// the configured polling budget. The producing stage itself succeeded, so a
// run failed this way is retryable.
var ErrVisibilityTimeout = errors.New("ledger object not visible within polling budget")

// ValidationError is a precondition the caller should have checked
// (non-positive price, zero supply, missing actor). Surfaced before any
// ledger operation is submitted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// PartialFailureError reports a multi-stage run that failed at a stage after
// earlier stages already took permanent effect on the ledger. There is no
// compensating rollback: Produced lists the handles the caller must deal
// with, not discard, and StageIndex tells Resume where to re-enter.
type PartialFailureError struct {
	RunID      uuid.UUID
	StageIndex int
	StageID    string
	Produced   HandleMap
	Err        error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("run %s failed at stage %d (%s) with %d objects already created: %v",
		e.RunID, e.StageIndex, e.StageID, len(e.Produced), e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }
