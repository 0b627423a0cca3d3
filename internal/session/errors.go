package session

import (
	"errors"
	"fmt"
)

var (
	// ErrPresentationUnavailable is returned when interactive sign-in is
	// needed but the caller supplied no way to present it
	ErrPresentationUnavailable = errors.New("no interactive presentation context available")

	// ErrImplausibleState signals a broken invariant inside the coordinator.
	// It is a programming error, not something the user can recover from.
	ErrImplausibleState = errors.New("implausible authentication state")
)

// BlockedError reports that resolution stopped because the caller's
// options did not permit the remedial action that was needed.
// Retrying with Requiring added to the options may succeed.
type BlockedError struct {
	Requiring Options
	Status    Status
	Cause     error
}

func (e *BlockedError) Error() string {
	msg := fmt.Sprintf("authentication blocked in state %s: requires %s", e.Status, e.Requiring)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BlockedError) Unwrap() error {
	return e.Cause
}

// IsBlocked reports whether err is a BlockedError and returns it
func IsBlocked(err error) (*BlockedError, bool) {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked, true
	}
	return nil, false
}

func implausible(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrImplausibleState, fmt.Sprintf(format, args...))
}
