// Package history persists a bounded chat transcript through a kv.Store.
// Every method absorbs persistence faults: callers only ever see a boolean
// or an empty transcript.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"firstprinciple-chat/internal/kv"
	"firstprinciple-chat/internal/models"
)

const (
	StorageKey       = "first-principle-chat-history"
	Version          = "1.0"
	MaxMessages      = 100
	MaxStorageSize   = 5 * 1024 * 1024
	ReducedMessages  = 50
	FallbackMessages = 10
)

const messageSchema = `{
	"type": "object",
	"required": ["id", "role", "content", "timestamp"],
	"properties": {
		"id":        {"type": "string"},
		"role":      {"enum": ["user", "assistant"]},
		"content":   {"type": "string"},
		"timestamp": {"type": "number"}
	}
}`

var compiledSchema = mustSchema(messageSchema)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("history: invalid message schema: %v", err))
	}
	return schema
}

type Store struct {
	kv      kv.Store
	key     string
	maxSize int
	now     func() time.Time
	logger  zerolog.Logger
}

type Option func(*Store)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxSize overrides the serialized size cap.
func WithMaxSize(n int) Option {
	return func(s *Store) { s.maxSize = n }
}

func New(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:      store,
		key:     StorageKey,
		maxSize: MaxStorageSize,
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists the newest part of messages. It reports false only when
// even the minimal fallback record could not be written.
func (s *Store) Save(ctx context.Context, messages []models.Message) bool {
	data, err := s.encode(Truncate(messages, MaxMessages))
	if err == nil && len(data) > s.maxSize {
		s.logger.Warn().Int("bytes", len(data)).Msg("chat history too large, removing oldest messages")
		data, err = s.encode(Truncate(messages, ReducedMessages))
	}
	if err == nil {
		err = s.kv.Set(ctx, s.key, data)
	}
	if err == nil {
		return true
	}

	s.logger.Error().Err(err).Msg("failed to save chat history")

	// free what we hold and try a minimal record
	if err := s.kv.Remove(ctx, s.key); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear chat history before fallback save")
		return false
	}
	data, err = s.encode(tail(messages, FallbackMessages))
	if err == nil {
		err = s.kv.Set(ctx, s.key, data)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("fallback chat history save failed")
		return false
	}
	return true
}

func (s *Store) encode(messages []models.Message) ([]byte, error) {
	if messages == nil {
		messages = []models.Message{}
	}
	return json.Marshal(models.StoredChatData{
		Messages:  messages,
		Timestamp: s.now().UnixMilli(),
		Version:   Version,
	})
}

// Load returns the stored transcript. Corrupt records are discarded and
// entries that do not look like a message are skipped.
func (s *Store) Load(ctx context.Context) []models.Message {
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return []models.Message{}
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load chat history")
		return []models.Message{}
	}

	var stored struct {
		Messages json.RawMessage `json:"messages"`
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &stored); err != nil || json.Unmarshal(stored.Messages, &entries) != nil || entries == nil {
		s.logger.Warn().Msg("invalid chat history format, clearing storage")
		if err := s.kv.Remove(ctx, s.key); err != nil {
			s.logger.Error().Err(err).Msg("failed to clear invalid chat history")
		}
		return []models.Message{}
	}

	messages := make([]models.Message, 0, len(entries))
	for _, entry := range entries {
		msg, ok := decodeMessage(entry)
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	if dropped := len(entries) - len(messages); dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("skipped malformed chat history entries")
	}
	return messages
}

func decodeMessage(entry json.RawMessage) (models.Message, bool) {
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(entry))
	if err != nil || !result.Valid() {
		return models.Message{}, false
	}

	var msg struct {
		models.Message
		Timestamp float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(entry, &msg); err != nil {
		return models.Message{}, false
	}
	ts := math.Round(msg.Timestamp)
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
	if math.IsNaN(ts) || ts < math.MinInt64 || ts >= math.MaxInt64 {
		return models.Message{}, false
	}
	msg.Message.Timestamp = int64(ts)
	return msg.Message, true
}

// Clear removes the stored transcript. It is idempotent.
func (s *Store) Clear(ctx context.Context) bool {
	if err := s.kv.Remove(ctx, s.key); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear chat history")
		return false
	}
	return true
}

type Stats struct {
	Usage           int `json:"usage"`
	MessageCount    int `json:"message_count"`
	MaxMessages     int `json:"max_messages"`
	MaxSize         int `json:"max_size"`
	UsagePercentage int `json:"usage_percentage"`
}

// Stats reports how much of the storage budget the transcript uses.
func (s *Store) Stats(ctx context.Context) Stats {
	usage := 0
	if raw, err := s.kv.Get(ctx, s.key); err == nil {
		usage = len(raw)
	}
	return Stats{
		Usage:           usage,
		MessageCount:    len(s.Load(ctx)),
		MaxMessages:     MaxMessages,
		MaxSize:         s.maxSize,
		UsagePercentage: int(math.Round(float64(usage) / float64(s.maxSize) * 100)),
	}
}

// Truncate keeps the newest messages up to limit. A kept assistant reply
// always keeps the user message right before it, so the result may hold
// limit+1 messages.
func Truncate(messages []models.Message, limit int) []models.Message {
	if len(messages) <= limit {
		return messages
	}

	start := len(messages)
	for i := len(messages) - 1; i >= 0 && len(messages)-start < limit; i-- {
		start = i
		if messages[i].Role == models.RoleAssistant && i > 0 && messages[i-1].Role == models.RoleUser {
			i--
			start = i
		}
	}

	out := make([]models.Message, len(messages)-start)
	copy(out, messages[start:])
	return out
}

func tail(messages []models.Message, n int) []models.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
