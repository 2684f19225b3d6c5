package internal

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

var logger = GetLogger("dsync")

var (
	ENOTSUP    = errors.New("not supported")
	ErrSkipped = errors.New("skipped")
)

// UserError reports invalid user input (bad path, empty source list, missing
// checksum on a remote object). It aborts an operation before any transfer.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }

// CredentialError reports missing or insufficient access for the requested
// capability. It is fatal and raised at the authentication step.
type CredentialError struct {
	Profile string
	Access  string
	Err     error
}

func (e *CredentialError) Error() string {
	s := "insufficient " + e.Access + " access for profile " + e.Profile
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CredentialError) Unwrap() error { return e.Err }

// DatasetModelError reports operating on a dataset that does not follow the
// manifest-based model, e.g. downloading a legacy version that must be
// migrated first.
type DatasetModelError struct {
	Msg string
}

func (e *DatasetModelError) Error() string { return e.Msg }

// SystemicError marks a failure that must stop job dispatch: generator
// failure, client construction failure. In-flight work is still drained.
type SystemicError struct {
	Err error
}

func (e *SystemicError) Error() string { return "systemic: " + e.Err.Error() }

func (e *SystemicError) Unwrap() error { return e.Err }

// TransientError marks an error as retryable regardless of its underlying
// type, for backends that cannot express retryability natively.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsFatal reports whether an error must stop scheduling new work.
func IsFatal(err error) bool {
	var ce *CredentialError
	var se *SystemicError
	return errors.As(err, &ce) || errors.As(err, &se)
}

var transientHints = []string{
	"SlowDown",
	"Throttling",
	"TooManyRequests",
	"RequestTimeout",
	"connection reset",
	"broken pipe",
	"timeout",
	"ServerBusy",
	"InternalError",
}

// IsTransient reports whether an error is worth retrying: timeouts,
// throttling and connection resets. User, credential and model errors are
// never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ue *UserError
	var ce *CredentialError
	var de *DatasetModelError
	if errors.As(err, &ue) || errors.As(err, &ce) || errors.As(err, &de) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
