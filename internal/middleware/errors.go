package middleware

import (
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"firstprinciple-chat/internal/models"
)

func requestID(r *http.Request) string {
	if id := chimw.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	writeJSONError(w, status, models.APIError{
		Code:      code,
		Message:   message,
		RequestID: requestID(r),
	})
}

func writeJSONError(w http.ResponseWriter, status int, apiErr models.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: apiErr})
}
