package models

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessage creates a transcript message stamped with now.
// IDs are ULIDs, so they sort by creation time.
func NewMessage(role Role, content string, now time.Time) Message {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()

	return Message{
		ID:        id.String(),
		Role:      role,
		Content:   content,
		Timestamp: now.UnixMilli(),
	}
}
