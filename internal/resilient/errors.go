package resilient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTimeout is the cancellation cause used when an attempt runs out of time.
	ErrTimeout = errors.New("request timeout")
	// ErrUserCancelled is the cancellation cause used by Executor.Cancel.
	ErrUserCancelled = errors.New("user cancelled")
)

// NetworkError wraps a transport-level failure. It is retried.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network failure: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx response or an unusable response body.
type UpstreamError struct {
	Status     int
	StatusText string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return "upstream error: " + e.Message
	}
	msg := fmt.Sprintf("HTTP %d: %s", e.Status, e.StatusText)
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}
	return msg
}

// TimeoutError is terminal: the executor never retries after a timeout.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string { return "request timed out: " + e.Cause.Error() }
func (e *TimeoutError) Unwrap() error { return e.Cause }

// CancelledError is terminal and reports why the request was aborted.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string { return "request cancelled: " + e.Reason() }
func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) Reason() string {
	if e.Cause == nil {
		return context.Canceled.Error()
	}
	return e.Cause.Error()
}

// IsCancellation reports whether err ends a request without retries.
func IsCancellation(err error) bool {
	var timeoutErr *TimeoutError
	var cancelledErr *CancelledError
	return errors.As(err, &timeoutErr) || errors.As(err, &cancelledErr)
}

// cancellationError classifies a finished context; nil while ctx is live.
func cancellationError(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		return &TimeoutError{Cause: cause}
	}
	return &CancelledError{Cause: cause}
}

func newUpstreamError(status int, body []byte) *UpstreamError {
	return &UpstreamError{
		Status:     status,
		StatusText: http.StatusText(status),
		Message:    errorMessage(body),
	}
}

// errorMessage pulls a human readable message out of the common error
// payload shapes: {"error":{"message":"..."}} and {"error":"..."}.
func errorMessage(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
