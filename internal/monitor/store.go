package monitor

import (
	"context"
	"errors"
	"time"
)

// ErrStoreCorrupt marks unreadable durable state. The service fails closed
// for the affected topic: no alerts are emitted and the state is never
// silently reset, since a reset would replay every already-seen finding.
var ErrStoreCorrupt = errors.New("seen-set store corrupt")

// SinkWindow is one fixed-window rate-limit counter for a (topic, sink) pair.
type SinkWindow struct {
	WindowStart time.Time `json:"window_start"`
	Count       int       `json:"count"`
}

// Store is the durable per-topic state behind the monitoring engine: the
// seen-set, the rate-limit counters, and last-checked bookkeeping.
//
// MarkSeen, SetCounters, and SetLastChecked may buffer; Flush is the
// durability boundary and must be atomic with respect to a concurrent
// reload — a reader must never observe a partially written namespace.
// MarkSeen is idempotent: marking an already-seen key is a no-op.
type Store interface {
	Seen(ctx context.Context, topicID, key string) (bool, error)
	MarkSeen(ctx context.Context, topicID, key string, observedAt time.Time) error
	Counters(ctx context.Context, topicID string) (map[string]SinkWindow, error)
	SetCounters(ctx context.Context, topicID string, counters map[string]SinkWindow) error
	LastChecked(ctx context.Context, topicID string) (time.Time, error)
	SetLastChecked(ctx context.Context, topicID string, t time.Time) error
	Flush(ctx context.Context) error
}
