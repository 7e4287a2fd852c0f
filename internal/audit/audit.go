package audit

import (
	"context"
	"time"
)

// Entry is the canonical audit record model used by the queue, the worker,
// and the durable store. LogID is pre-assigned and sortable so repeated
// persistence of the same entry is idempotent.
type Entry struct {
	LogID         string            `json:"log_id"`
	Type          string            `json:"type"`
	Level         string            `json:"level,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	EntityType    string            `json:"entity_type,omitempty"`
	EntityID      string            `json:"entity_id,omitempty"`
	Description   string            `json:"description,omitempty"`
	Payload       map[string]string `json:"payload,omitempty"`
	IP            string            `json:"ip,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	TraceID       string            `json:"trace_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Store persists drained batches. InsertBatch must be idempotent on LogID:
// re-inserting an already-persisted entry is a no-op, which makes the
// at-least-once queue safe.
type Store interface {
	InsertBatch(ctx context.Context, entries []Entry) error
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, entries []Entry) error

func (f StoreFunc) InsertBatch(ctx context.Context, entries []Entry) error {
	return f(ctx, entries)
}
