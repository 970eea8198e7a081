package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"firstprinciple-chat/internal/models"
	"firstprinciple-chat/internal/services"
)

const (
	maxChatBody = 64 * 1024

	aiUnavailableMessage = "AI service is temporarily unavailable, please try again later"
)

type ChatHandler struct {
	completer services.Completer
	logger    zerolog.Logger
}

func NewChatHandler(completer services.Completer, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		completer: completer,
		logger:    logger,
	}
}

// Ask forwards one validated user message to the model and returns its answer.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := services.ValidateMessage(req.Message); err != nil {
		handleServiceError(w, r, err)
		return
	}

	start := time.Now()
	content, err := h.completer.Complete(r.Context(), req.Message)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("request_id", requestID(r)).
			Dur("elapsed", time.Since(start)).
			Msg("chat completion failed")
		writeJSON(w, http.StatusInternalServerError, errorResp("AI_ERROR", aiUnavailableMessage, r))
		return
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{Content: content})
}
