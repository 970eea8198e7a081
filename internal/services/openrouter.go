package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"firstprinciple-chat/internal/metrics"
	"firstprinciple-chat/internal/resilient"
)

const (
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel = "deepseek/deepseek-chat"

	completionTemperature = 0.7
	completionMaxTokens   = 500

	maxCompletionBody = 4 * 1024 * 1024
)

type OpenRouterConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	SiteURL        string
	SiteName       string
	MaxRetries     int
	Timeout        time.Duration
	RequestsPerMin int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message *chatMessage `json:"message"`
	} `json:"choices"`
}

// OpenRouterService talks to an OpenAI-compatible chat completions endpoint.
type OpenRouterService struct {
	cfg      OpenRouterConfig
	executor *resilient.Executor
	throttle *rate.Limiter
	logger   zerolog.Logger
}

func NewOpenRouterService(cfg OpenRouterConfig, client resilient.Doer, logger zerolog.Logger) *OpenRouterService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenRouterModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = resilient.DefaultTimeout
	}

	throttle := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerMin > 0 {
		throttle = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMin)), cfg.RequestsPerMin)
	}

	logger = logger.With().Str("component", "openrouter").Logger()
	return &OpenRouterService{
		cfg: cfg,
		executor: resilient.NewExecutor(client,
			resilient.WithTimeout(cfg.Timeout),
			resilient.WithLogger(logger),
			resilient.WithStateHook(recordAttempt),
		),
		throttle: throttle,
		logger:   logger,
	}
}

// recordAttempt counts how each upstream attempt ended.
func recordAttempt(state resilient.State, _ int) {
	switch state {
	case resilient.StateSucceeded, resilient.StateRetrying, resilient.StateFailed, resilient.StateCancelled:
		metrics.UpstreamAttempts.WithLabelValues(state.String()).Inc()
	}
}

func (s *OpenRouterService) Complete(ctx context.Context, message string) (string, error) {
	if err := s.throttle.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for upstream rate slot: %w", err)
	}

	body, err := json.Marshal(completionRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: message},
		},
		Temperature: completionTemperature,
		MaxTokens:   completionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	start := time.Now()
	resp, err := s.executor.ExecuteWithRetry(ctx, resilient.Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(s.cfg.BaseURL, "/") + "/chat/completions",
		Header: s.headers(),
		Body:   body,
	}, s.cfg.MaxRetries)
	metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return decodeCompletion(resp.Body)
}

func (s *OpenRouterService) headers() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+s.cfg.APIKey)
	h.Set("Content-Type", "application/json")
	if s.cfg.SiteURL != "" {
		h.Set("HTTP-Referer", s.cfg.SiteURL)
	}
	if s.cfg.SiteName != "" {
		h.Set("X-Title", s.cfg.SiteName)
	}
	return h
}

func decodeCompletion(r io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxCompletionBody))
	if err != nil {
		return "", &resilient.NetworkError{Err: err}
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &resilient.UpstreamError{Message: "malformed completion response"}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return "", &resilient.UpstreamError{Message: "completion response has no message"}
	}
	if strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", &resilient.UpstreamError{Message: "completion response is empty"}
	}
	return out.Choices[0].Message.Content, nil
}

// Close is a no-op; the service holds no connections of its own.
func (s *OpenRouterService) Close() {}
