package p24

import (
	"errors"
	"fmt"
)

// Error kinds for gateway operations. Every client error wraps one of these,
// so callers match with errors.Is.
var (
	ErrCredentials     = errors.New("gateway rejected credentials")
	ErrLockFailure     = errors.New("transaction registration rejected")
	ErrCommunication   = errors.New("gateway communication failed")
	ErrRefund          = errors.New("refund rejected")
	ErrInvalidCallback = errors.New("invalid notification")
	ErrNotSupported    = errors.New("operation not supported by przelewy24")
)

// APIError is returned for failed gateway calls. It carries the raw response
// for diagnostics and unwraps to the operation's error kind.
type APIError struct {
	Op         string
	StatusCode int
	Body       []byte
	Kind       error
	Cause      error
}

func (e *APIError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %v: status=%d body=%q", e.Op, e.Kind, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

func (e *APIError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}
