package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/scout/internal/topic"
)

// TopicRun tallies what happened while evaluating one topic's results.
type TopicRun struct {
	TopicID        string
	Results        int // raw results received from search
	Findings       int // new findings evaluated (deduped, scored, decided)
	Duplicates     int
	Malformed      int
	Emitted        int
	Suppressed     int
	BelowThreshold int
	RateLimited    int // sink exclusions across all decisions
}

// Engine evaluates one topic's raw search results: normalize, dedup, score,
// decide, deliver, mark seen. It is driven by the Service once per topic per
// cycle and carries no per-cycle state of its own; cross-cycle state lives in
// the Store and the Policy counters.
type Engine struct {
	store   Store
	scorer  *Scorer
	policy  *Policy
	sinks   map[string]Sink
	logger  log.Logger
	metrics *Metrics
	dryRun  bool
}

// NewEngine creates an evaluation engine. The sinks map is keyed by sink
// name; alerts addressed to an unregistered sink are logged and dropped.
func NewEngine(store Store, scorer *Scorer, policy *Policy, sinks map[string]Sink, logger log.Logger, metrics *Metrics, dryRun bool) *Engine {
	return &Engine{
		store:   store,
		scorer:  scorer,
		policy:  policy,
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		dryRun:  dryRun,
	}
}

// Evaluate runs every raw result through the pipeline and marks each
// evaluated finding seen (alerted, suppressed, or below threshold alike), so
// no finding is ever re-evaluated in a later cycle. Malformed results are
// skipped with a logged warning; duplicates never reach the policy engine.
//
// A store error fails the topic closed: evaluation stops and no further
// alerts are emitted for it this cycle.
func (e *Engine) Evaluate(ctx context.Context, t *topic.Topic, results []RawResult, now time.Time) (*TopicRun, error) {
	L := e.logger.With("topic", t.ID)
	run := &TopicRun{TopicID: t.ID, Results: len(results)}

	for i := range results {
		f, err := Normalize(results[i], t.ID, now)
		if err != nil {
			run.Malformed++
			e.metrics.FindingsTotal.WithLabelValues("malformed").Inc()
			L.Warn(ctx, "skipping malformed result", "index", i, "error", err)
			continue
		}

		seen, err := e.store.Seen(ctx, t.ID, f.IdentityKey)
		if err != nil {
			return run, fmt.Errorf("seen-set lookup for topic %s: %w", t.ID, err)
		}
		if seen {
			run.Duplicates++
			e.metrics.FindingsTotal.WithLabelValues("duplicate").Inc()
			continue
		}

		run.Findings++
		e.metrics.FindingsTotal.WithLabelValues("new").Inc()

		f.Score = e.scorer.Score(&f, t)
		decision := e.policy.Decide(&f, t, now)

		run.RateLimited += len(decision.RateLimited)
		for _, sink := range decision.RateLimited {
			e.metrics.RateLimitedTotal.WithLabelValues(sink).Inc()
		}

		switch {
		case decision.Alert != nil:
			run.Emitted++
			e.metrics.DecisionsTotal.WithLabelValues("alerted").Inc()
			e.deliver(ctx, decision.Alert)
		case decision.Reason == ReasonBelowThreshold:
			run.BelowThreshold++
			e.metrics.DecisionsTotal.WithLabelValues(ReasonBelowThreshold).Inc()
		default:
			run.Suppressed++
			e.metrics.DecisionsTotal.WithLabelValues(ReasonSuppressed).Inc()
			L.Info(ctx, "alert suppressed",
				"finding", f.Summary(),
				"score", f.Score,
				"rate_limited_sinks", decision.RateLimited,
			)
		}

		if e.dryRun {
			continue
		}
		if err := e.store.MarkSeen(ctx, t.ID, f.IdentityKey, now); err != nil {
			return run, fmt.Errorf("mark seen for topic %s: %w", t.ID, err)
		}
	}

	return run, nil
}

// deliver hands an alert to each of its surviving sinks. Sink failures are
// logged and counted, never retried here.
func (e *Engine) deliver(ctx context.Context, a *AlertRecord) {
	L := e.logger.With("alert_id", a.ID, "topic", a.TopicID)

	if e.dryRun {
		L.Info(ctx, "dry run, alert not delivered",
			"finding", a.Finding.Summary(),
			"score", a.Score,
			"sinks", a.Sinks,
			"reason", a.Reason,
		)
		return
	}

	for _, name := range a.Sinks {
		sink, ok := e.sinks[name]
		if !ok {
			L.Warn(ctx, "no adapter registered for sink", "sink", name)
			e.metrics.DeliveriesTotal.WithLabelValues(name, "unregistered").Inc()
			continue
		}
		if err := sink.Deliver(ctx, a); err != nil {
			L.Error(ctx, err, "alert delivery failed", "sink", name)
			e.metrics.DeliveriesTotal.WithLabelValues(name, "error").Inc()
			continue
		}
		e.metrics.DeliveriesTotal.WithLabelValues(name, "ok").Inc()
		L.Info(ctx, "alert delivered",
			"sink", name,
			"finding", a.Finding.Summary(),
			"score", a.Score,
			"reason", a.Reason,
		)
	}
}
