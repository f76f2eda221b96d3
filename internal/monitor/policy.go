package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/scout/internal/topic"
)

// Decision is the outcome of running one finding through the policy engine.
// Alert is nil when no alert is produced; Reason explains why.
type Decision struct {
	Alert       *AlertRecord
	Reason      string
	RateLimited []string // candidate sinks excluded by their rate cap
}

// Policy decides whether a scored finding becomes an alert and through which
// sinks. It owns the fixed-window rate-limit counters; the cap check and the
// increment for surviving sinks happen under one lock so concurrent topics
// cannot race past a cap.
type Policy struct {
	mu        sync.Mutex
	window    time.Duration
	globalCap int
	counters  map[string]map[string]SinkWindow // topic id -> sink -> window
	global    SinkWindow
}

// NewPolicy creates a policy engine with the given fixed rate window and
// optional global per-window alert cap (0 = unlimited).
func NewPolicy(window time.Duration, globalCap int) *Policy {
	return &Policy{
		window:    window,
		globalCap: globalCap,
		counters:  make(map[string]map[string]SinkWindow),
	}
}

// Seed loads previously persisted counters for a topic, typically at the
// start of a cycle. Seeding an already-seeded topic overwrites its counters.
func (p *Policy) Seed(topicID string, counters map[string]SinkWindow) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make(map[string]SinkWindow, len(counters))
	for k, v := range counters {
		cp[k] = v
	}
	p.counters[topicID] = cp
}

// SeedGlobal loads the persisted global alert window, typically at the start
// of a cycle. Without seeding, a restart would reset the global cap.
func (p *Policy) SeedGlobal(w SinkWindow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = w
}

// GlobalCounter returns a snapshot of the global alert window for persistence.
func (p *Policy) GlobalCounter() SinkWindow {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.global
}

// Counters returns a snapshot of a topic's counters for persistence.
func (p *Policy) Counters(topicID string) map[string]SinkWindow {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make(map[string]SinkWindow, len(p.counters[topicID]))
	for k, v := range p.counters[topicID] {
		cp[k] = v
	}
	return cp
}

// Decide runs the decision sequence for one scored finding:
//
//  1. score below the topic threshold (exclusive; equal scores qualify)
//     produces no alert with reason below_threshold.
//  2. candidate sinks are the topic's enabled sinks, narrowed to the highest
//     qualifying tier when tiers are configured.
//  3. each candidate sink's rate window is checked; capped sinks are excluded
//     with reason rate_limited and their counters are not incremented.
//  4. if every candidate is excluded the finding is suppressed (no record);
//     the caller still marks it seen.
//  5. otherwise one AlertRecord is produced and the surviving sinks'
//     counters (and the global counter) are incremented.
func (p *Policy) Decide(f *Finding, t *topic.Topic, now time.Time) Decision {
	if f.Score < t.Threshold {
		return Decision{Reason: ReasonBelowThreshold}
	}

	candidates, reason := p.candidates(f, t)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.globalCap > 0 && !p.admitGlobal(now) {
		return Decision{Reason: ReasonSuppressed, RateLimited: candidates}
	}

	sinks := p.counters[t.ID]
	if sinks == nil {
		sinks = make(map[string]SinkWindow)
		p.counters[t.ID] = sinks
	}

	var surviving []string
	var excluded []string
	for _, sink := range candidates {
		w := rollWindow(sinks[sink], p.window, now)
		limit := t.Cap(sink)
		if limit > 0 && w.Count >= limit {
			sinks[sink] = w
			excluded = append(excluded, sink)
			continue
		}
		surviving = append(surviving, sink)
	}

	if len(surviving) == 0 {
		return Decision{Reason: ReasonSuppressed, RateLimited: excluded}
	}

	for _, sink := range surviving {
		w := rollWindow(sinks[sink], p.window, now)
		w.Count++
		sinks[sink] = w
	}
	p.global = rollWindow(p.global, p.window, now)
	p.global.Count++

	return Decision{
		Alert: &AlertRecord{
			ID:        ulid.Make().String(),
			TopicID:   t.ID,
			TopicName: t.Name,
			Finding:   *f,
			Score:     f.Score,
			Sinks:     surviving,
			Reason:    reason,
			Context:   t.Context,
			EmittedAt: now,
		},
		Reason:      reason,
		RateLimited: excluded,
	}
}

// candidates applies the tier narrowing. The highest tier whose MinScore the
// finding meets wins; with no qualifying tier (or no tiers at all) the full
// enabled sink set is used.
func (p *Policy) candidates(f *Finding, t *topic.Topic) (sinks []string, reason string) {
	var best *topic.Tier
	for i := range t.Tiers {
		tier := &t.Tiers[i]
		if f.Score < tier.MinScore {
			continue
		}
		if best == nil || tier.MinScore > best.MinScore {
			best = tier
		}
	}
	if best != nil {
		return best.Sinks, fmt.Sprintf("tier:%s", best.Name)
	}
	return t.Sinks, fmt.Sprintf("score %.2f >= threshold %.2f", f.Score, t.Threshold)
}

// admitGlobal checks and counts against the global cap. Caller holds p.mu.
// The increment happens later, only if the finding actually alerts.
func (p *Policy) admitGlobal(now time.Time) bool {
	p.global = rollWindow(p.global, p.window, now)
	return p.global.Count < p.globalCap
}

// rollWindow resets a counter whose fixed window has elapsed.
func rollWindow(w SinkWindow, window time.Duration, now time.Time) SinkWindow {
	if w.WindowStart.IsZero() || now.Sub(w.WindowStart) >= window {
		return SinkWindow{WindowStart: now}
	}
	return w
}
