package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrAuthentication indicates the login call could not establish a session.
// It is terminal for the run.
type ErrAuthentication struct {
	Err error
}

func (e ErrAuthentication) Error() string {
	return fmt.Errorf("authentication: %w", e.Err).Error()
}

func (e ErrAuthentication) Unwrap() error {
	return e.Err
}

// ErrRateLimitExceeded indicates the API kept answering 429 until the next
// backoff would have exceeded the ceiling.
type ErrRateLimitExceeded struct {
	Attempts int
	Backoff  time.Duration
	Ceiling  time.Duration
}

func (e ErrRateLimitExceeded) Error() string {
	return fmt.Sprintf("rate_limit_exceeded: backed off %d times, next backoff %s exceeds %s",
		e.Attempts, e.Backoff, e.Ceiling)
}

// ErrRequest indicates a non-200, non-429 response. Body is kept for
// diagnostics.
type ErrRequest struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e ErrRequest) Error() string {
	return fmt.Sprintf("request: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// ErrorLabel maps client errors to a metrics label; unknown errors map to "".
func ErrorLabel(err error) string {
	if err == nil {
		return ""
	}
	var auth ErrAuthentication
	if errors.As(err, &auth) {
		return "authentication"
	}
	var rate ErrRateLimitExceeded
	if errors.As(err, &rate) {
		return "rate_limit_exceeded"
	}
	var req ErrRequest
	if errors.As(err, &req) {
		return "request"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}
	return ""
}
