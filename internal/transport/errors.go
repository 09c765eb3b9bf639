package transport

import (
	"errors"
	"fmt"
	"time"
)

// SendError classifies a failed delivery. Permanent failures mean the
// destination is unusable (blocked, removed, invalid) and must not be retried.
type SendError struct {
	Permanent  bool
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s send failure (retry after %s): %v", kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s send failure: %v", kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Permanent wraps err as a non-retryable send failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &SendError{Permanent: true, Err: err}
}

// Transient wraps err as a retryable send failure.
func Transient(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	return &SendError{RetryAfter: retryAfter, Err: err}
}

func IsPermanent(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Permanent
}

// IsTransient reports whether err may be retried. Unclassified errors count
// as transient.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// RetryAfter returns the platform-provided backoff hint, if any.
func RetryAfter(err error) time.Duration {
	var se *SendError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
