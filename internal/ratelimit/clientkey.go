package ratelimit

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"firstprinciple-chat/internal/kv"
)

const (
	// AnonymousKey is shared by every client without a persistent store.
	AnonymousKey = "anonymous"

	clientKeyName = "user-key"
)

// ClientKey returns a stable identifier for this client, creating and
// persisting one on first use. Without a usable store it falls back to
// AnonymousKey, so all such clients share one window.
func ClientKey(ctx context.Context, store kv.Store) string {
	if store == nil {
		return AnonymousKey
	}

	raw, err := store.Get(ctx, clientKeyName)
	if err == nil && len(raw) > 0 {
		return string(raw)
	}
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return AnonymousKey
	}

	key := "user-" + uuid.NewString()
	if err := store.Set(ctx, clientKeyName, []byte(key)); err != nil {
		return AnonymousKey
	}
	return key
}
