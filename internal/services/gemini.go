package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"firstprinciple-chat/internal/metrics"
	"firstprinciple-chat/internal/resilient"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// generator is the part of *genai.GenerativeModel the service uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey         string
	Model          string
	ConcurrentReqs int
	MaxRetries     int
	Timeout        time.Duration
}

type GeminiService struct {
	client     *genai.Client
	model      generator
	rateChan   chan struct{} // concurrency slots
	maxRetries int
	timeout    time.Duration
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     zerolog.Logger
}

func NewGeminiService(ctx context.Context, cfg GeminiConfig, logger zerolog.Logger) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(completionTemperature)
	model.SetMaxOutputTokens(completionMaxTokens)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(SystemPrompt)}}

	s := newGeminiService(model, cfg, logger)
	s.client = client
	return s, nil
}

func newGeminiService(model generator, cfg GeminiConfig, logger zerolog.Logger) *GeminiService {
	concurrentReqs := max(1, cfg.ConcurrentReqs)
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = resilient.DefaultTimeout
	}
	return &GeminiService{
		model:      model,
		rateChan:   rateChan,
		maxRetries: max(0, cfg.MaxRetries),
		timeout:    timeout,
		baseDelay:  resilient.DefaultBaseDelay,
		maxDelay:   resilient.DefaultMaxDelay,
		logger:     logger.With().Str("component", "gemini").Logger(),
	}
}

func (s *GeminiService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return &resilient.CancelledError{Cause: context.Cause(ctx)}
	case <-time.After(time.Minute):
		return &resilient.UpstreamError{Message: "timeout waiting for Gemini rate slot"}
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// Complete asks Gemini with the same attempt budget as the HTTP providers:
// each attempt has its own timeout, and network or API failures are retried
// after a capped exponential backoff. Timeouts and cancellation are terminal.
func (s *GeminiService) Complete(ctx context.Context, message string) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	start := time.Now()
	defer func() { metrics.UpstreamLatency.Observe(time.Since(start).Seconds()) }()

	for attempt := 0; ; attempt++ {
		resp, err := s.generate(ctx, message)
		if err == nil {
			metrics.UpstreamAttempts.WithLabelValues(resilient.StateSucceeded.String()).Inc()
			return s.answer(resp)
		}

		if resilient.IsCancellation(err) {
			metrics.UpstreamAttempts.WithLabelValues(resilient.StateCancelled.String()).Inc()
			return "", err
		}
		if attempt >= s.maxRetries {
			metrics.UpstreamAttempts.WithLabelValues(resilient.StateFailed.String()).Inc()
			return "", err
		}
		metrics.UpstreamAttempts.WithLabelValues(resilient.StateRetrying.String()).Inc()

		delay := resilient.Backoff(s.baseDelay, s.maxDelay, attempt)
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("Gemini request failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", classifyGeminiError(ctx, ctx.Err())
		case <-timer.C:
		}
	}
}

func (s *GeminiService) generate(ctx context.Context, message string) (*genai.GenerateContentResponse, error) {
	attemptCtx, cancel := context.WithTimeoutCause(ctx, s.timeout, resilient.ErrTimeout)
	defer cancel()

	resp, err := s.model.GenerateContent(attemptCtx, genai.Text(message))
	if err != nil {
		return nil, classifyGeminiError(attemptCtx, err)
	}
	return resp, nil
}

func (s *GeminiService) answer(resp *genai.GenerateContentResponse) (string, error) {
	if resp != nil {
		for i, cand := range resp.Candidates {
			if cand.FinishReason != genai.FinishReasonStop {
				s.logger.Warn().Int("candidate", i).Str("finish_reason", cand.FinishReason.String()).Msg("Gemini stopped early")
			}
		}
	}

	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		return "", &resilient.UpstreamError{Message: "Gemini returned no text"}
	}
	return text, nil
}

func classifyGeminiError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, resilient.ErrTimeout) || errors.Is(cause, context.DeadlineExceeded) {
			return &resilient.TimeoutError{Cause: cause}
		}
		return &resilient.CancelledError{Cause: cause}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &resilient.UpstreamError{
			Status:     apiErr.Code,
			StatusText: http.StatusText(apiErr.Code),
			Message:    apiErr.Message,
		}
	}
	return &resilient.NetworkError{Err: err}
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
