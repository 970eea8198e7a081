// Package resilient wraps outbound HTTP calls with a per-attempt timeout,
// caller and user cancellation, and capped exponential-backoff retries.
package resilient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 5 * time.Second

	// maxErrorBody bounds how much of a failed response is read for its message.
	maxErrorBody = 64 * 1024

	tracerName = "firstprinciple-chat/internal/resilient"
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one logical call. The body is replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// State is the lifecycle of one logical request.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateRetrying
	StateSucceeded
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateCancelled || s == StateFailed
}

// Executor issues requests with retry. It tracks the token of the most
// recent call so Cancel can abort it.
type Executor struct {
	client    Doer
	timeout   time.Duration
	baseDelay time.Duration
	maxDelay  time.Duration
	logger    zerolog.Logger
	onState   func(state State, attempt int)

	mu      sync.Mutex
	cancel  context.CancelCauseFunc
	current uint64
	seq     uint64
}

type Option func(*Executor)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithBackoff sets the first retry delay and the cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(e *Executor) {
		e.baseDelay = base
		e.maxDelay = maxDelay
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithStateHook registers fn to observe every state transition. fn runs on
// the calling goroutine and must not block.
func WithStateHook(fn func(state State, attempt int)) Option {
	return func(e *Executor) { e.onState = fn }
}

func NewExecutor(client Doer, opts ...Option) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	e := &Executor{
		client:    client,
		timeout:   DefaultTimeout,
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type callOptions struct {
	signal context.Context
}

type CallOption func(*callOptions)

// WithSignal adds an external cancellation token. The call is aborted when
// either ctx or signal is done.
func WithSignal(signal context.Context) CallOption {
	return func(o *callOptions) { o.signal = signal }
}

// Backoff returns the wait after the given failed attempt:
// min(base * 2^attempt, max).
func (e *Executor) Backoff(attempt int) time.Duration {
	return Backoff(e.baseDelay, e.maxDelay, attempt)
}

// Backoff is the capped exponential delay shared by every retry loop.
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	return min(delay, maxDelay)
}

// Cancel aborts the tracked request with ErrUserCancelled. A second call,
// or a call with nothing in flight, does nothing.
func (e *Executor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		e.cancel(ErrUserCancelled)
		e.cancel = nil
	}
}

// Active reports whether a request is tracked and can be cancelled.
func (e *Executor) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

func (e *Executor) track(cancel context.CancelCauseFunc) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	e.current = e.seq
	e.cancel = cancel
	return e.seq
}

func (e *Executor) untrack(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == id {
		e.cancel = nil
	}
}

func (e *Executor) transition(state State, attempt int) {
	if e.onState != nil {
		e.onState(state, attempt)
	}
}

// ExecuteWithRetry performs req, making at most maxRetries+1 attempts.
// A 2xx response is returned as is; the caller must close its body, which
// also releases the request's cancellation token. Non-2xx responses and
// network failures are retried after Backoff; timeouts and cancellations
// are returned immediately.
func (e *Executor) ExecuteWithRetry(ctx context.Context, req Request, maxRetries int, opts ...CallOption) (*http.Response, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	// reject requests that could never be built before spending attempts
	if _, err := http.NewRequest(req.Method, req.URL, nil); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	parent, stopParent := ctx, context.CancelFunc(func() {})
	if co.signal != nil {
		parent, stopParent = Any(ctx, co.signal)
	}
	reqCtx, cancel := context.WithCancelCause(parent)
	id := e.track(cancel)

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			e.untrack(id)
			cancel(nil)
			stopParent()
		})
	}

	start := time.Now()
	var lastErr error

	for attempt := 0; ; attempt++ {
		e.transition(StateAttempting, attempt)

		resp, err := e.attempt(reqCtx, cancel, req, attempt)
		if err == nil {
			e.transition(StateSucceeded, attempt)
			e.logger.Debug().
				Int("attempt", attempt).
				Int("status", resp.StatusCode).
				Dur("elapsed", time.Since(start)).
				Msg("request succeeded")
			resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
			return resp, nil
		}

		if IsCancellation(err) {
			e.transition(StateCancelled, attempt)
			e.logger.Info().Int("attempt", attempt).Err(err).Msg("request cancelled")
			release()
			return nil, err
		}

		lastErr = err
		if attempt >= maxRetries {
			break
		}

		delay := e.Backoff(attempt)
		e.transition(StateRetrying, attempt)
		e.logger.Warn().
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("request failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-reqCtx.Done():
			timer.Stop()
			cerr := cancellationError(reqCtx)
			e.transition(StateCancelled, attempt)
			e.logger.Info().Int("attempt", attempt).Err(cerr).Msg("request cancelled during backoff")
			release()
			return nil, cerr
		case <-timer.C:
		}
	}

	e.transition(StateFailed, maxRetries)
	e.logger.Error().
		Int("attempts", maxRetries+1).
		Dur("elapsed", time.Since(start)).
		Err(lastErr).
		Msg("request failed")
	release()
	return nil, lastErr
}

// attempt issues exactly one network call.
func (e *Executor) attempt(ctx context.Context, cancel context.CancelCauseFunc, req Request, attempt int) (*http.Response, error) {
	// the backoff select may lose a race with a cancel that landed just after the timer fired
	if err := cancellationError(ctx); err != nil {
		return nil, err
	}

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().
		Tracer(tracerName).
		Start(ctx, "resilient.attempt", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("http.method", req.Method),
		))
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}

	timer := time.AfterFunc(e.timeout, func() { cancel(ErrTimeout) })
	resp, err := e.client.Do(httpReq)
	timer.Stop()

	if err != nil {
		if cerr := cancellationError(ctx); cerr != nil {
			span.SetStatus(codes.Error, cerr.Error())
			return nil, cerr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "network failure")
		return nil, &NetworkError{Err: err}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		upErr := newUpstreamError(resp.StatusCode, body)
		span.SetStatus(codes.Error, upErr.Error())
		return nil, upErr
	}

	return resp, nil
}

// releasingBody frees the request's token once the caller is done reading.
type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
