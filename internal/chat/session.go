// Package chat coordinates one conversation: admission through the local
// rate limiter, the call to the chat server, and history persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"firstprinciple-chat/internal/history"
	"firstprinciple-chat/internal/models"
	"firstprinciple-chat/internal/ratelimit"
	"firstprinciple-chat/internal/resilient"
	"firstprinciple-chat/internal/services"
)

const (
	// MaxRetryCount bounds how many times a failed exchange may be retried by hand.
	MaxRetryCount = 3

	retryRetries = 1
)

var (
	ErrBusy            = errors.New("a request is already in progress")
	ErrNothingToRetry  = errors.New("nothing to retry")
	ErrMessageNotFound = errors.New("message not found")
)

// State is what the conversation is doing right now.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateRetrying
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRetrying:
		return "retrying"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode selects how Reexplain rephrases a previous question.
type Mode string

const (
	ModeRetry          Mode = "retry"
	ModeDifferentAngle Mode = "different-angle"
	ModeSimplify       Mode = "simplify"
	ModeDetail         Mode = "detail"
)

var modeSuffix = map[Mode]string{
	ModeRetry:          "Please explain this again from first principles, taking a different line of analysis.",
	ModeDifferentAngle: "Please analyse this question again from a completely different angle and look for new insights.",
	ModeSimplify:       "Please explain again in simpler language, with fewer technical terms and more everyday examples.",
	ModeDetail:         "Please give a more detailed analysis, expanding each key concept with more examples and arguments.",
}

// Asker sends one message to the chat backend.
type Asker interface {
	Ask(ctx context.Context, message string, maxRetries int) (string, error)
	Cancel()
}

type Session struct {
	api     Asker
	limiter *ratelimit.Limiter
	key     string
	history *history.Store
	now     func() time.Time
	logger  zerolog.Logger
	retries int

	mu         sync.Mutex
	messages   []models.Message
	state      State
	lastErr    error
	lastUser   string
	retryCount int
	canRetry   bool
}

type Option func(*Session)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithMaxRetries sets the executor retries used by Send and Reexplain.
func WithMaxRetries(n int) Option {
	return func(s *Session) { s.retries = max(n, 0) }
}

// NewSession restores the saved transcript and returns a session ready to
// send. key identifies this client to the limiter.
func NewSession(ctx context.Context, api Asker, limiter *ratelimit.Limiter, key string, store *history.Store, opts ...Option) *Session {
	s := &Session{
		api:     api,
		limiter: limiter,
		key:     key,
		history: store,
		now:     time.Now,
		logger:  zerolog.Nop(),
		retries: resilient.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.messages = store.Load(ctx)
	return s
}

// Send validates text, checks the rate limit, and exchanges it with the
// server. The user message is kept in the transcript even when the call
// fails, so Retry can resend it.
func (s *Session) Send(ctx context.Context, text string) (models.Message, error) {
	if err := services.ValidateMessage(text); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	if err := s.begin(StateLoading); err != nil {
		s.mu.Unlock()
		return models.Message{}, err
	}
	s.appendLocked(ctx, models.NewMessage(models.RoleUser, text, s.now()))
	s.lastUser = text
	s.retryCount = 0
	s.mu.Unlock()

	return s.exchange(ctx, text, s.retries)
}

// Retry resends the last user message without adding it again. It only
// applies to a failed exchange that still has retries left.
func (s *Session) Retry(ctx context.Context) (models.Message, error) {
	s.mu.Lock()
	if s.state == StateLoading || s.state == StateRetrying {
		s.mu.Unlock()
		return models.Message{}, ErrBusy
	}
	if s.lastUser == "" || s.state != StateError || !s.canRetry {
		s.mu.Unlock()
		return models.Message{}, ErrNothingToRetry
	}
	if err := s.begin(StateRetrying); err != nil {
		s.mu.Unlock()
		return models.Message{}, err
	}
	text := s.lastUser
	s.mu.Unlock()

	return s.exchange(ctx, text, retryRetries)
}

// Reexplain asks again about the question behind the assistant message
// with the given ID, steering the answer with mode.
func (s *Session) Reexplain(ctx context.Context, messageID string, mode Mode) (models.Message, error) {
	suffix, ok := modeSuffix[mode]
	if !ok {
		return models.Message{}, fmt.Errorf("unknown reexplain mode %q", mode)
	}

	s.mu.Lock()
	question, err := s.questionFor(messageID)
	if err != nil {
		s.mu.Unlock()
		return models.Message{}, err
	}
	if err := s.begin(StateLoading); err != nil {
		s.mu.Unlock()
		return models.Message{}, err
	}
	s.retryCount = 0
	s.mu.Unlock()

	return s.exchange(ctx, question+"\n\n"+suffix, s.retries)
}

func (s *Session) questionFor(messageID string) (string, error) {
	for i, msg := range s.messages {
		if msg.ID != messageID {
			continue
		}
		if i == 0 || s.messages[i-1].Role != models.RoleUser {
			return "", ErrMessageNotFound
		}
		return s.messages[i-1].Content, nil
	}
	return "", ErrMessageNotFound
}

// begin moves into a loading state if the limiter admits the request.
// Callers hold s.mu.
func (s *Session) begin(next State) error {
	if s.state == StateLoading || s.state == StateRetrying {
		return ErrBusy
	}

	d := s.limiter.Check(s.key)
	if !d.Allowed {
		err := &services.RateLimitError{
			Message:    fmt.Sprintf("Too many requests, please retry in %s. Remaining requests: %d", ratelimit.FormatWait(d.Wait), d.Remaining),
			Remaining:  d.Remaining,
			RetryAfter: d.Wait,
		}
		s.state = StateError
		s.lastErr = err
		s.canRetry = false
		return err
	}

	s.state = next
	s.lastErr = nil
	s.canRetry = false
	return nil
}

func (s *Session) exchange(ctx context.Context, text string, maxRetries int) (models.Message, error) {
	reply, err := s.api.Ask(ctx, text, maxRetries)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Int("retry_count", s.retryCount).Msg("chat request failed")

		var cancelled *resilient.CancelledError
		s.canRetry = errors.As(err, &cancelled) || s.retryCount < MaxRetryCount
		s.retryCount++
		s.state = StateError
		s.lastErr = err
		return models.Message{}, err
	}

	msg := models.NewMessage(models.RoleAssistant, reply, s.now())
	s.appendLocked(ctx, msg)
	s.state = StateIdle
	s.retryCount = 0
	return msg, nil
}

// appendLocked adds msg and persists the transcript. Callers hold s.mu.
func (s *Session) appendLocked(ctx context.Context, msg models.Message) {
	s.messages = append(s.messages, msg)
	if !s.history.Save(ctx, s.messages) {
		s.logger.Warn().Msg("chat history was not saved")
	}
}

// Cancel aborts the request in flight. It is a no-op when idle.
func (s *Session) Cancel() {
	s.api.Cancel()
}

// Clear forgets the transcript locally and in storage.
func (s *Session) Clear(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.history.Clear(ctx) {
		return false
	}
	s.messages = nil
	s.lastUser = ""
	s.lastErr = nil
	s.retryCount = 0
	s.canRetry = false
	if s.state == StateError {
		s.state = StateIdle
	}
	return true
}

// DismissError returns an errored session to idle without retrying.
func (s *Session) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateError {
		s.state = StateIdle
	}
	s.lastErr = nil
	s.canRetry = false
}

func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the failure that put the session into StateError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) CanRetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canRetry
}

// Remaining reports how many requests the limiter would still admit.
func (s *Session) Remaining() int {
	return s.limiter.Remaining(s.key)
}

func (s *Session) Stats(ctx context.Context) history.Stats {
	return s.history.Stats(ctx)
}
