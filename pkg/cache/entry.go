package cache

import (
	"encoding/json"
	"time"
)

// DefaultTTL applies when Set is called with a non-positive TTL.
const DefaultTTL = 24 * time.Hour

// Entry is a cached successful response. Expiry is left to Redis.
type Entry struct {
	// Payload is the JSON body, stored verbatim.
	Payload json.RawMessage `json:"payload"`

	StatusCode int       `json:"status"`
	StoredAt   time.Time `json:"stored_at"`
}

// NewEntry wraps a payload for caching.
func NewEntry(payload json.RawMessage, statusCode int) *Entry {
	return &Entry{
		Payload:    payload,
		StatusCode: statusCode,
		StoredAt:   time.Now().UTC(),
	}
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	if e.StoredAt.IsZero() {
		return 0
	}
	return time.Since(e.StoredAt)
}
