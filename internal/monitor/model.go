package monitor

import (
	"context"
	"errors"
	"time"
)

// ErrMalformedResult marks a raw search result that lacks the minimum
// identifying fields (no URL and no title). Such results are skipped.
var ErrMalformedResult = errors.New("malformed search result")

// ErrSearchUnavailable marks a search collaborator failure. The topic's run
// fails in isolation; the rest of the cycle continues.
var ErrSearchUnavailable = errors.New("search unavailable")

// ErrSearchTimeout marks a search that exceeded the per-topic time budget.
var ErrSearchTimeout = errors.New("search timed out")

// Searcher is the external search collaborator. Implementations live outside
// the core (e.g. the subprocess adapter in internal/search).
type Searcher interface {
	Search(ctx context.Context, query string) ([]RawResult, error)
}

// Sink is an alert delivery channel. Delivery is best-effort: the core logs
// failures and never retries; retry policy belongs to the sink or a
// higher-level agent.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a *AlertRecord) error
}

// RawResult is one search result as returned by the external search
// collaborator. The shape mirrors the JSON envelope the search command
// prints on stdout; unknown provider fields are ignored.
type RawResult struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet"`
	Provider    string    `json:"provider,omitempty"`
	Rank        int       `json:"rank,omitempty"` // 1-based position, 0 = unknown
	PublishedAt time.Time `json:"published_date,omitempty"`
}

// Finding is one normalized search result observed for a topic. Findings are
// immutable after scoring and are discarded at the end of the cycle.
type Finding struct {
	IdentityKey string    `json:"identity_key"`
	TopicID     string    `json:"topic_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet"`
	Provider    string    `json:"provider,omitempty"`
	Rank        int       `json:"rank,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
	Score       float64   `json:"score"`
}

// Summary returns a short human-readable identifier for logs and alerts.
func (f *Finding) Summary() string {
	if f.Title != "" {
		return f.Title
	}
	return f.URL
}

// AlertRecord is the structured output unit handed to sinks. Created by the
// policy engine exactly once per alert-worthy finding; immutable.
type AlertRecord struct {
	ID        string    `json:"id"`
	TopicID   string    `json:"topic"`
	TopicName string    `json:"topic_name"`
	Finding   Finding   `json:"finding"`
	Score     float64   `json:"score"`
	Sinks     []string  `json:"sinks"`
	Reason    string    `json:"reason"`
	Context   string    `json:"context,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Decision reasons, stable strings reported in alerts and the cycle summary.
const (
	ReasonBelowThreshold = "below_threshold"
	ReasonRateLimited    = "rate_limited"
	ReasonSuppressed     = "suppressed"
)
