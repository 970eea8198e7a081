package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"firstprinciple-chat/internal/middleware"
	"firstprinciple-chat/internal/models"
	"firstprinciple-chat/internal/resilient"
)

const maxReplyBody = 4 * 1024 * 1024

// APIClient calls the chat server's /api/v1/chat endpoint.
type APIClient struct {
	endpoint  string
	clientKey string
	executor  *resilient.Executor
}

func NewAPIClient(serverURL, clientKey string, executor *resilient.Executor) *APIClient {
	return &APIClient{
		endpoint:  strings.TrimRight(serverURL, "/") + "/api/v1/chat",
		clientKey: clientKey,
		executor:  executor,
	}
}

// Ask sends message and returns the assistant's reply.
func (c *APIClient) Ask(ctx context.Context, message string, maxRetries int) (string, error) {
	body, err := json.Marshal(models.ChatRequest{Message: message})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(middleware.ClientKeyHeader, c.clientKey)

	resp, err := c.executor.ExecuteWithRetry(ctx, resilient.Request{
		Method: http.MethodPost,
		URL:    c.endpoint,
		Header: header,
		Body:   body,
	}, maxRetries)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBody))
	if err != nil {
		return "", &resilient.NetworkError{Err: err}
	}

	var reply models.ChatResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", &resilient.UpstreamError{Message: "malformed chat response"}
	}
	return reply.Content, nil
}

// Cancel aborts the request in flight, if any.
func (c *APIClient) Cancel() {
	c.executor.Cancel()
}
