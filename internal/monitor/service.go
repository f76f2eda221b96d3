package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/scout/internal/topic"
)

var tracer = otel.Tracer("github.com/linnemanlabs/scout/internal/monitor")

// Options tunes how the service drives a cycle.
type Options struct {
	Concurrency  int           // max topics evaluated in parallel, default 4
	TopicTimeout time.Duration // per-topic budget incl. search, default 60s
	DryRun       bool          // evaluate and log, but never deliver or persist
	Force        bool          // ignore frequency gating, check every topic
	Only         string        // restrict the cycle to one topic id
}

const (
	defaultConcurrency  = 4
	defaultTopicTimeout = 60 * time.Second
)

// globalStateID is the reserved store namespace for cross-topic state. Topic
// ids must start with a letter or digit, so it can never collide.
const globalStateID = "_global"

// globalCounterKey holds the global alert window inside that namespace.
const globalCounterKey = "alerts"

// TopicFailure records why one topic's run failed.
type TopicFailure struct {
	TopicID string
	Reason  string
}

// CycleReport is the per-cycle summary surfaced to the operator.
type CycleReport struct {
	Started          time.Time
	Finished         time.Time
	TopicsChecked    int
	TopicsSkipped    int // not due this cycle
	Succeeded        []string
	Failed           []TopicFailure
	Findings         int // new findings evaluated
	Duplicates       int
	Malformed        int
	AlertsEmitted    int
	AlertsSuppressed int
	BelowThreshold   int
}

// Service drives one monitoring pass over all configured topics. Topics run
// concurrently with bounded parallelism; failures are isolated per topic. The
// caller must not start a new cycle before RunCycle returns (the store flush
// at the end of a cycle is the durability boundary).
type Service struct {
	topics   *topic.File
	store    Store
	searcher Searcher
	engine   *Engine
	policy   *Policy
	logger   log.Logger
	metrics  *Metrics
	opts     Options

	now func() time.Time
}

// NewService wires the cycle driver. The topics file must already be
// validated; the scorer is built from its configured weights.
func NewService(topics *topic.File, store Store, searcher Searcher, sinks map[string]Sink, logger log.Logger, metrics *Metrics, opts Options) (*Service, error) {
	scorer, err := NewScorer(DefaultSignals(topics.Settings.Weights))
	if err != nil {
		return nil, fmt.Errorf("build scorer: %w", err)
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.TopicTimeout <= 0 {
		opts.TopicTimeout = defaultTopicTimeout
	}

	policy := NewPolicy(topics.Settings.RateWindow, topics.Settings.GlobalCap)
	engine := NewEngine(store, scorer, policy, sinks, logger, metrics, opts.DryRun)

	return &Service{
		topics:   topics,
		store:    store,
		searcher: searcher,
		engine:   engine,
		policy:   policy,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		now:      time.Now,
	}, nil
}

// RunCycle executes one monitoring pass and returns its report. A non-nil
// error means the cycle itself could not complete (e.g. the final flush
// failed); per-topic failures are reported, not returned.
func (s *Service) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := s.now()
	report := &CycleReport{Started: start}

	ctx, span := tracer.Start(ctx, "monitor.cycle")
	defer span.End()

	// The global alert window persists across process restarts; one-shot runs
	// share the same window through the store.
	if s.topics.Settings.GlobalCap > 0 {
		counters, err := s.store.Counters(ctx, globalStateID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return report, fmt.Errorf("load global alert window: %w", err)
		}
		s.policy.SeedGlobal(counters[globalCounterKey])
	}

	type outcome struct {
		topicID string
		run     *TopicRun
		skipped bool
		err     error
	}

	selected := s.selectTopics()
	outcomes := make([]outcome, len(selected))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.opts.Concurrency)

	for i, t := range selected {
		wg.Add(1)
		go func(i int, t *topic.Topic) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			run, skipped, err := s.runTopic(ctx, t, start)
			outcomes[i] = outcome{topicID: t.ID, run: run, skipped: skipped, err: err}
		}(i, t)
	}
	wg.Wait()

	for _, o := range outcomes {
		switch {
		case o.skipped:
			report.TopicsSkipped++
			s.metrics.TopicRunsTotal.WithLabelValues("skipped").Inc()
		case o.err != nil:
			report.TopicsChecked++
			report.Failed = append(report.Failed, TopicFailure{TopicID: o.topicID, Reason: o.err.Error()})
			s.metrics.TopicRunsTotal.WithLabelValues("failed").Inc()
		default:
			report.TopicsChecked++
			report.Succeeded = append(report.Succeeded, o.topicID)
			s.metrics.TopicRunsTotal.WithLabelValues("ok").Inc()
		}
		if o.run != nil {
			report.Findings += o.run.Findings
			report.Duplicates += o.run.Duplicates
			report.Malformed += o.run.Malformed
			report.AlertsEmitted += o.run.Emitted
			report.AlertsSuppressed += o.run.Suppressed
			report.BelowThreshold += o.run.BelowThreshold
		}
	}

	if !s.opts.DryRun {
		if s.topics.Settings.GlobalCap > 0 {
			global := map[string]SinkWindow{globalCounterKey: s.policy.GlobalCounter()}
			if err := s.store.SetCounters(ctx, globalStateID, global); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return report, fmt.Errorf("persist global alert window: %w", err)
			}
		}
		flushStart := s.now()
		if err := s.store.Flush(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return report, fmt.Errorf("flush store: %w", err)
		}
		s.metrics.FlushDuration.Observe(s.now().Sub(flushStart).Seconds())
	}

	report.Finished = s.now()
	s.metrics.CyclesTotal.Inc()
	s.metrics.CycleDuration.Observe(report.Finished.Sub(start).Seconds())

	s.logger.Info(ctx, "cycle complete",
		"topics_checked", report.TopicsChecked,
		"topics_skipped", report.TopicsSkipped,
		"topics_failed", len(report.Failed),
		"findings", report.Findings,
		"duplicates", report.Duplicates,
		"malformed", report.Malformed,
		"alerts_emitted", report.AlertsEmitted,
		"alerts_suppressed", report.AlertsSuppressed,
		"below_threshold", report.BelowThreshold,
		"duration", report.Finished.Sub(start).Seconds(),
	)

	return report, nil
}

// selectTopics applies the -topic restriction; frequency gating happens per
// topic inside runTopic since it needs the store's last-checked time.
func (s *Service) selectTopics() []*topic.Topic {
	var out []*topic.Topic
	for i := range s.topics.Topics {
		t := &s.topics.Topics[i]
		if s.opts.Only != "" && t.ID != s.opts.Only {
			continue
		}
		out = append(out, t)
	}
	return out
}

// runTopic drives one topic through search and evaluation under its own
// timeout. Returns skipped=true when the topic is not yet due.
func (s *Service) runTopic(ctx context.Context, t *topic.Topic, now time.Time) (run *TopicRun, skipped bool, err error) {
	ctx, span := tracer.Start(ctx, "monitor.topic", trace.WithAttributes(
		attribute.String("topic.id", t.ID),
	))
	defer span.End()

	L := s.logger.With("topic", t.ID)

	ctx, cancel := context.WithTimeout(ctx, s.opts.TopicTimeout)
	defer cancel()

	lastChecked, err := s.store.LastChecked(ctx, t.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("load topic state: %w", err)
	}
	if !s.opts.Force && s.opts.Only == "" && !t.Frequency.Due(lastChecked, now) {
		return nil, true, nil
	}

	counters, err := s.store.Counters(ctx, t.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("load rate counters: %w", err)
	}
	s.policy.Seed(t.ID, counters)

	searchStart := s.now()
	results, err := s.searcher.Search(ctx, t.Query)
	if err != nil {
		s.metrics.SearchDuration.WithLabelValues("error").Observe(s.now().Sub(searchStart).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrSearchTimeout, err)
		}
		L.Error(ctx, err, "search failed")
		return nil, false, err
	}
	s.metrics.SearchDuration.WithLabelValues("ok").Observe(s.now().Sub(searchStart).Seconds())

	run, err = s.engine.Evaluate(ctx, t, results, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "evaluation failed, failing closed")
		return run, false, err
	}

	if !s.opts.DryRun {
		if err := s.store.SetCounters(ctx, t.ID, s.policy.Counters(t.ID)); err != nil {
			return run, false, fmt.Errorf("persist rate counters: %w", err)
		}
		if err := s.store.SetLastChecked(ctx, t.ID, now); err != nil {
			return run, false, fmt.Errorf("persist topic state: %w", err)
		}
	}

	L.Info(ctx, "topic checked",
		"results", run.Results,
		"new", run.Findings,
		"duplicates", run.Duplicates,
		"alerts", run.Emitted,
	)
	return run, false, nil
}
