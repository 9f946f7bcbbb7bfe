package store

import (
	"errors"
	"fmt"
	"strings"
)

// MissingRealizationError reports a logic tree branch with no stored
// realization for a (location, IMT). It is fatal for that unit of work:
// skipping the branch would silently renormalize the remaining weights.
type MissingRealizationError struct {
	Location string
	IMT      string
	BranchID string
}

func (e *MissingRealizationError) Error() string {
	return fmt.Sprintf("no realization stored for branch %q (location %s, imt %s)", e.BranchID, e.Location, e.IMT)
}

// TransientError wraps a backend failure that is worth retrying: lock
// contention, busy timeouts, interrupted I/O. The coordinator retries these
// with backoff before promoting them to fatal.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classify wraps sqlite contention failures as transient so the coordinator
// can retry them; anything else is returned as-is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"database is locked", "busy", "interrupted", "disk i/o error"} {
		if strings.Contains(msg, marker) {
			return &TransientError{Op: op, Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
