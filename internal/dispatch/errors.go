package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited means the user has used today's allowance.
	ErrRateLimited = errors.New("dispatch: daily limit reached")
	// ErrNotFound means the target could not be resolved upstream.
	ErrNotFound = errors.New("dispatch: target not found")
	// ErrStoreUnavailable wraps counter store failures. Limit checks fail closed on it.
	ErrStoreUnavailable = errors.New("dispatch: store unavailable")
)

// RemoteError carries the upstream diagnostic verbatim.
type RemoteError struct {
	Diagnostic string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote operation failed: %s: %v", e.Diagnostic, e.Err)
	}
	return "remote operation failed: " + e.Diagnostic
}

func (e *RemoteError) Unwrap() error { return e.Err }

// diagnostic returns the text shown to the requester for a failed execution.
func diagnostic(err error) string {
	var re *RemoteError
	if errors.As(err, &re) && re.Diagnostic != "" {
		return re.Diagnostic
	}
	return err.Error()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
