package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrRetryable marks a transient failure worth another attempt.
	ErrRetryable = errors.New("retryable")
	// ErrJobNotFound means the job is gone or no longer in a runnable state.
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicate is returned by Enqueue when the idempotency key is already taken.
	ErrDuplicate = errors.New("duplicate job")
)

// Retryable wraps err so the worker schedules another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// IsRetryable reports whether err is transient: explicitly marked, a timeout,
// or a rate-limit/unavailable response from a Google API.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetryable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded:
			return true
		}
	}
	return false
}
