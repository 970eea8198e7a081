package services

import "time"

// Validation reasons, also used as metric labels.
const (
	ReasonEmpty      = "empty"
	ReasonTooLong    = "too_long"
	ReasonSuspicious = "suspicious"
)

type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// RateLimitError is returned when the local limiter refuses a request.
type RateLimitError struct {
	Message    string
	Remaining  int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return e.Message }
