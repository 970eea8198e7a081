package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"firstprinciple-chat/internal/resilient"
)

// fakeGenerator returns queued errors first, then resp. A blocking
// generator waits for its context instead.
type fakeGenerator struct {
	mu    sync.Mutex
	resp  *genai.GenerateContentResponse
	errs  []error
	block bool
	calls int
	got   []genai.Part
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	f.calls++
	f.got = parts
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return f.resp, nil
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func textResponse(chunks ...string) *genai.GenerateContentResponse {
	parts := make([]genai.Part, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, genai.Text(c))
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: parts},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func newTestGemini(gen generator, cfg GeminiConfig) *GeminiService {
	svc := newGeminiService(gen, cfg, zerolog.Nop())
	svc.baseDelay = time.Millisecond
	svc.maxDelay = 2 * time.Millisecond
	return svc
}

func TestGemini_Complete(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("## 问题拆解\n", "创业的本质")}
	svc := newTestGemini(gen, GeminiConfig{ConcurrentReqs: 2})

	got, err := svc.Complete(context.Background(), "为什么要创业？")
	require.NoError(t, err)
	assert.Equal(t, "## 问题拆解\n创业的本质", got)
	assert.Equal(t, []genai.Part{genai.Text("为什么要创业？")}, gen.got)
	assert.Len(t, svc.rateChan, 2, "slot is returned")
}

func TestGemini_EmptyResponse(t *testing.T) {
	svc := newTestGemini(&fakeGenerator{resp: &genai.GenerateContentResponse{}}, GeminiConfig{ConcurrentReqs: 1})

	_, err := svc.Complete(context.Background(), "hi")
	var upErr *resilient.UpstreamError
	assert.ErrorAs(t, err, &upErr)
}

func TestGemini_ErrorClassification(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		gen := &fakeGenerator{errs: []error{&googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota"}}}
		svc := newTestGemini(gen, GeminiConfig{ConcurrentReqs: 1})

		_, err := svc.Complete(context.Background(), "hi")
		var upErr *resilient.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, http.StatusTooManyRequests, upErr.Status)
		assert.Equal(t, "quota", upErr.Message)
	})

	t.Run("transport error", func(t *testing.T) {
		gen := &fakeGenerator{errs: []error{errors.New("dial tcp: refused")}}
		svc := newTestGemini(gen, GeminiConfig{ConcurrentReqs: 1})

		_, err := svc.Complete(context.Background(), "hi")
		var netErr *resilient.NetworkError
		assert.ErrorAs(t, err, &netErr)
	})

	t.Run("cancelled context", func(t *testing.T) {
		gen := &fakeGenerator{errs: []error{context.Canceled}}
		svc := newTestGemini(gen, GeminiConfig{ConcurrentReqs: 1})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := svc.Complete(ctx, "hi")
		assert.True(t, resilient.IsCancellation(err))
	})
}

func TestGemini_RetriesTransientFailures(t *testing.T) {
	gen := &fakeGenerator{
		errs: []error{
			errors.New("connection reset"),
			&googleapi.Error{Code: http.StatusServiceUnavailable},
		},
		resp: textResponse("ok"),
	}
	svc := newTestGemini(gen, GeminiConfig{ConcurrentReqs: 1, MaxRetries: 3})

	got, err := svc.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, gen.Calls())
}

func TestGemini_RetryBudgetRunsOut(t *testing.T) {
	failure := errors.New("connection reset")
	gen := &fakeGenerator{errs: []error{failure, failure, failure, failure, failure}}
	svc := newTestGemini(gen, GeminiConfig{ConcurrentReqs: 1, MaxRetries: 2})

	_, err := svc.Complete(context.Background(), "hi")
	var netErr *resilient.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, 3, gen.Calls())
}

func TestGemini_AttemptTimeoutIsTerminal(t *testing.T) {
	gen := &fakeGenerator{block: true}
	svc := newTestGemini(gen, GeminiConfig{ConcurrentReqs: 1, MaxRetries: 3, Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := svc.Complete(context.Background(), "hi")

	var timeoutErr *resilient.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.ErrorIs(t, err, resilient.ErrTimeout)
	assert.Equal(t, 1, gen.Calls(), "timeouts are not retried")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, svc.rateChan, 1, "slot is returned")
}

func TestGemini_WaitsForSlot(t *testing.T) {
	svc := newTestGemini(&fakeGenerator{resp: textResponse("ok")}, GeminiConfig{ConcurrentReqs: 1})
	<-svc.rateChan // occupy the only slot

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Complete(ctx, "hi")
	var cancelled *resilient.CancelledError
	assert.ErrorAs(t, err, &cancelled)
}

func TestExtractText(t *testing.T) {
	assert.Equal(t, "", extractText(nil))
	assert.Equal(t, "ab", extractText(textResponse("a", "b")))
}
