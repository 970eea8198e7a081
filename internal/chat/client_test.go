package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firstprinciple-chat/internal/handlers"
	"firstprinciple-chat/internal/history"
	"firstprinciple-chat/internal/kv"
	"firstprinciple-chat/internal/middleware"
	"firstprinciple-chat/internal/ratelimit"
	"firstprinciple-chat/internal/resilient"
	"firstprinciple-chat/internal/router"
)

type countingCompleter struct {
	calls int32
	reply string
	err   error
}

func (c *countingCompleter) Complete(ctx context.Context, message string) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.reply, c.err
}

func newTestServer(t *testing.T, completer *countingCompleter, limit int) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	server := httptest.NewServer(router.New(
		handlers.NewChatHandler(completer, logger),
		handlers.NewHealthHandler("test"),
		middleware.NewRateLimiter(ratelimit.New(limit, time.Minute), logger),
		"http://localhost:3000",
		logger,
	))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(server *httptest.Server) *APIClient {
	executor := resilient.NewExecutor(server.Client(), resilient.WithBackoff(time.Millisecond, 2*time.Millisecond))
	return NewAPIClient(server.URL+"/", "user-e2e", executor)
}

func TestAPIClient_Ask(t *testing.T) {
	completer := &countingCompleter{reply: "## 问题拆解\n第一性原理"}
	client := newTestClient(newTestServer(t, completer, 10))

	got, err := client.Ask(context.Background(), "为什么要创业？", 3)
	require.NoError(t, err)
	assert.Equal(t, "## 问题拆解\n第一性原理", got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&completer.calls))
}

func TestAPIClient_ServerErrorIsRetriedThenSurfaced(t *testing.T) {
	completer := &countingCompleter{err: assert.AnError}
	client := newTestClient(newTestServer(t, completer, 10))

	_, err := client.Ask(context.Background(), "hello", 2)

	var upErr *resilient.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusInternalServerError, upErr.Status)
	assert.Equal(t, "AI service is temporarily unavailable, please try again later", upErr.Message)
	assert.Equal(t, int32(3), atomic.LoadInt32(&completer.calls))
}

func TestAPIClient_MalformedReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user-e2e", r.Header.Get(middleware.ClientKeyHeader))
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := newTestClient(server).Ask(context.Background(), "hello", 0)
	var upErr *resilient.UpstreamError
	assert.ErrorAs(t, err, &upErr)
}

func TestSession_AgainstServer(t *testing.T) {
	ctx := context.Background()
	completer := &countingCompleter{reply: "answer"}
	client := newTestClient(newTestServer(t, completer, 10))

	s := NewSession(ctx, client, ratelimit.NewDefault(), "user-e2e", history.New(kv.NewMemory()))

	reply, err := s.Send(ctx, "为什么要创业？")
	require.NoError(t, err)
	assert.Equal(t, "answer", reply.Content)
	assert.Len(t, s.Messages(), 2)
}
