package models

type APIError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RequestID         string `json:"request_id"`
	RemainingRequests *int   `json:"remaining_requests,omitempty"`
	RetryAfterMs      *int64 `json:"retry_after_ms,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
