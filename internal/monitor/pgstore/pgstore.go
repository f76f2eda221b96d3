// Package pgstore provides a PostgreSQL implementation of monitor.Store.
//
// Like the file store, mutations buffer in memory and commit in a single
// transaction on Flush, so the crash-safety contract is identical: state
// confirmed by a successful Flush is durable, state marked since the last
// Flush is not.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/scout/internal/monitor"
	"github.com/linnemanlabs/scout/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/scout/internal/monitor/pgstore")

//go:embed schema.sql
var schema string

// Store persists seen-sets and topic state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool

	mu              sync.Mutex
	pendingSeen     map[string]map[string]time.Time
	pendingCounters map[string]map[string]monitor.SinkWindow
	pendingChecked  map[string]time.Time
}

// New applies the schema and returns a ready Store. The pool is owned by the
// caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{
		pool:            pool,
		pendingSeen:     make(map[string]map[string]time.Time),
		pendingCounters: make(map[string]map[string]monitor.SinkWindow),
		pendingChecked:  make(map[string]time.Time),
	}, nil
}

// Seen reports whether the identity key is recorded for the topic, checking
// unflushed marks first.
func (s *Store) Seen(ctx context.Context, topicID, key string) (bool, error) {
	s.mu.Lock()
	if _, ok := s.pendingSeen[topicID][key]; ok {
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()

	ctx = postgres.WithTopic(ctx, topicID)
	ctx, span := tracer.Start(ctx, "pgstore.Seen", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM seen_findings WHERE topic_id = $1 AND identity_key = $2)`,
		topicID, key,
	).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("seen lookup: %w", err)
	}
	return exists, nil
}

// MarkSeen buffers the identity key until the next Flush. Idempotent.
func (s *Store) MarkSeen(_ context.Context, topicID, key string, observedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.pendingSeen[topicID]
	if keys == nil {
		keys = make(map[string]time.Time)
		s.pendingSeen[topicID] = keys
	}
	if _, ok := keys[key]; !ok {
		keys[key] = observedAt
	}
	return nil
}

// Counters returns the topic's persisted rate-limit counters, preferring
// unflushed updates.
func (s *Store) Counters(ctx context.Context, topicID string) (map[string]monitor.SinkWindow, error) {
	s.mu.Lock()
	if pending, ok := s.pendingCounters[topicID]; ok {
		cp := make(map[string]monitor.SinkWindow, len(pending))
		for k, v := range pending {
			cp[k] = v
		}
		s.mu.Unlock()
		return cp, nil
	}
	s.mu.Unlock()

	ctx = postgres.WithTopic(ctx, topicID)
	ctx, span := tracer.Start(ctx, "pgstore.Counters", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT counters FROM topic_state WHERE topic_id = $1`, topicID,
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return map[string]monitor.SinkWindow{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load counters: %w", err)
	}

	counters := make(map[string]monitor.SinkWindow)
	if err := json.Unmarshal(raw, &counters); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: counters for topic %s: %v", monitor.ErrStoreCorrupt, topicID, err)
	}
	return counters, nil
}

// SetCounters buffers the topic's counters until the next Flush.
func (s *Store) SetCounters(_ context.Context, topicID string, counters map[string]monitor.SinkWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(map[string]monitor.SinkWindow, len(counters))
	for k, v := range counters {
		cp[k] = v
	}
	s.pendingCounters[topicID] = cp
	return nil
}

// LastChecked returns when the topic was last checked, zero if never.
func (s *Store) LastChecked(ctx context.Context, topicID string) (time.Time, error) {
	s.mu.Lock()
	if t, ok := s.pendingChecked[topicID]; ok {
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	ctx = postgres.WithTopic(ctx, topicID)
	ctx, span := tracer.Start(ctx, "pgstore.LastChecked", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var t *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_checked FROM topic_state WHERE topic_id = $1`, topicID,
	).Scan(&t)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return time.Time{}, fmt.Errorf("load last checked: %w", err)
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}

// SetLastChecked buffers the topic's last check time until the next Flush.
func (s *Store) SetLastChecked(_ context.Context, topicID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingChecked[topicID] = t
	return nil
}

// Flush commits all buffered state in one transaction. On success the
// buffers are cleared; on failure everything stays pending for the next
// attempt.
func (s *Store) Flush(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "pgstore.Flush", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pendingSeen) == 0 && len(s.pendingCounters) == 0 && len(s.pendingChecked) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	for topicID, keys := range s.pendingSeen {
		tctx := postgres.WithTopic(ctx, topicID)
		for key, observedAt := range keys {
			_, err := tx.Exec(tctx,
				`INSERT INTO seen_findings (topic_id, identity_key, first_observed_at)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (topic_id, identity_key) DO NOTHING`,
				topicID, key, observedAt,
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("insert seen key for topic %s: %w", topicID, err)
			}
		}
	}

	if err := s.flushTopicState(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}

	s.pendingSeen = make(map[string]map[string]time.Time)
	s.pendingCounters = make(map[string]map[string]monitor.SinkWindow)
	s.pendingChecked = make(map[string]time.Time)
	return nil
}

// flushTopicState upserts counters and last-checked per topic. Caller holds
// s.mu and the open transaction.
func (s *Store) flushTopicState(ctx context.Context, tx pgx.Tx) error {
	topics := make(map[string]bool, len(s.pendingCounters)+len(s.pendingChecked))
	for id := range s.pendingCounters {
		topics[id] = true
	}
	for id := range s.pendingChecked {
		topics[id] = true
	}

	for topicID := range topics {
		tctx := postgres.WithTopic(ctx, topicID)
		countersJSON := []byte(`{}`)
		if counters, ok := s.pendingCounters[topicID]; ok {
			raw, err := json.Marshal(counters)
			if err != nil {
				return fmt.Errorf("marshal counters for topic %s: %w", topicID, err)
			}
			countersJSON = raw
		}

		var lastChecked *time.Time
		if t, ok := s.pendingChecked[topicID]; ok {
			lastChecked = &t
		}

		var err error
		switch {
		case lastChecked != nil && s.pendingCounters[topicID] != nil:
			_, err = tx.Exec(tctx,
				`INSERT INTO topic_state (topic_id, last_checked, counters)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (topic_id) DO UPDATE SET
					last_checked = EXCLUDED.last_checked,
					counters     = EXCLUDED.counters`,
				topicID, lastChecked, countersJSON,
			)
		case lastChecked != nil:
			_, err = tx.Exec(tctx,
				`INSERT INTO topic_state (topic_id, last_checked)
				 VALUES ($1, $2)
				 ON CONFLICT (topic_id) DO UPDATE SET last_checked = EXCLUDED.last_checked`,
				topicID, lastChecked,
			)
		default:
			_, err = tx.Exec(tctx,
				`INSERT INTO topic_state (topic_id, counters)
				 VALUES ($1, $2)
				 ON CONFLICT (topic_id) DO UPDATE SET counters = EXCLUDED.counters`,
				topicID, countersJSON,
			)
		}
		if err != nil {
			return fmt.Errorf("upsert topic state %s: %w", topicID, err)
		}
	}
	return nil
}
