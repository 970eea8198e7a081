package chat

import (
	"errors"
	"fmt"

	"firstprinciple-chat/internal/resilient"
	"firstprinciple-chat/internal/services"
)

// Describe turns any failure from a Session into a short message for the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var (
		validationErr *services.ValidationError
		rateErr       *services.RateLimitError
		cancelledErr  *resilient.CancelledError
		timeoutErr    *resilient.TimeoutError
		upstreamErr   *resilient.UpstreamError
		networkErr    *resilient.NetworkError
	)

	switch {
	case errors.As(err, &validationErr):
		return validationErr.Message
	case errors.As(err, &rateErr):
		return rateErr.Message
	case errors.As(err, &cancelledErr):
		return "Request cancelled"
	case errors.As(err, &timeoutErr):
		return "The request timed out, please try again"
	case errors.As(err, &upstreamErr):
		if upstreamErr.Message != "" {
			return upstreamErr.Message
		}
		if upstreamErr.Status != 0 {
			return fmt.Sprintf("Service error (HTTP %d), please try again", upstreamErr.Status)
		}
		return "The AI reply was malformed, please try again"
	case errors.As(err, &networkErr):
		return "Network error, check your connection and try again"
	case errors.Is(err, ErrBusy):
		return "A request is already in progress"
	case errors.Is(err, ErrNothingToRetry):
		return "There is nothing to retry"
	case errors.Is(err, ErrMessageNotFound):
		return "That message cannot be explained again"
	default:
		return "Send failed, please try again"
	}
}
