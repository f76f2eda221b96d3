// Package memstore provides an in-memory implementation of monitor.Store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/scout/internal/monitor"
)

// Store holds topic state in memory. Suitable for dev/testing; every write
// is immediately visible and Flush is a no-op.
type Store struct {
	mu          sync.RWMutex
	seen        map[string]map[string]time.Time // topic id -> identity key -> first observed
	counters    map[string]map[string]monitor.SinkWindow
	lastChecked map[string]time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		seen:        make(map[string]map[string]time.Time),
		counters:    make(map[string]map[string]monitor.SinkWindow),
		lastChecked: make(map[string]time.Time),
	}
}

// Seen reports whether the identity key was already recorded for the topic.
func (s *Store) Seen(_ context.Context, topicID, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[topicID][key]
	return ok, nil
}

// MarkSeen records the identity key. Marking an already-seen key keeps the
// original first-observed time.
func (s *Store) MarkSeen(_ context.Context, topicID, key string, observedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.seen[topicID]
	if keys == nil {
		keys = make(map[string]time.Time)
		s.seen[topicID] = keys
	}
	if _, ok := keys[key]; !ok {
		keys[key] = observedAt
	}
	return nil
}

// Counters returns a copy of the topic's rate-limit counters.
func (s *Store) Counters(_ context.Context, topicID string) (map[string]monitor.SinkWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]monitor.SinkWindow, len(s.counters[topicID]))
	for k, v := range s.counters[topicID] {
		cp[k] = v
	}
	return cp, nil
}

// SetCounters replaces the topic's rate-limit counters.
func (s *Store) SetCounters(_ context.Context, topicID string, counters map[string]monitor.SinkWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]monitor.SinkWindow, len(counters))
	for k, v := range counters {
		cp[k] = v
	}
	s.counters[topicID] = cp
	return nil
}

// LastChecked returns when the topic was last checked, zero if never.
func (s *Store) LastChecked(_ context.Context, topicID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastChecked[topicID], nil
}

// SetLastChecked records the topic's last check time.
func (s *Store) SetLastChecked(_ context.Context, topicID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChecked[topicID] = t
	return nil
}

// Flush is a no-op; memory writes are immediately durable for the lifetime
// of the process.
func (s *Store) Flush(_ context.Context) error {
	return nil
}
