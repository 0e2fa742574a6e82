package dispatcher

import (
	"errors"
	"fmt"
)

// Batch-level failures. They are returned before any target is processed.
var (
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
	ErrPoolTooLarge       = errors.New("worker count exceeds configured maximum")
	ErrNoFetcher          = errors.New("no fetcher configured")
)

// InterruptedError reports a batch whose context ended before every target
// was processed. The outcomes returned alongside it are incomplete.
type InterruptedError struct {
	Submitted int
	Recorded  int
	Cause     error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("batch interrupted after %d of %d outcomes: %v", e.Recorded, e.Submitted, e.Cause)
}

func (e *InterruptedError) Unwrap() error {
	return e.Cause
}
