package handlers

import (
	"net/http"
	"time"
)

type HealthHandler struct {
	provider string
	started  time.Time
}

func NewHealthHandler(provider string) *HealthHandler {
	return &HealthHandler{provider: provider, started: time.Now()}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"provider": h.provider,
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}
