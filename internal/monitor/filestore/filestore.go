// Package filestore provides a file-backed implementation of monitor.Store.
//
// Each topic gets one JSON namespace file under the configured root
// directory. Mutations accumulate in memory and reach disk only on Flush,
// which replaces each dirty namespace file atomically (temp file + fsync +
// rename), so a reader or a post-crash reload never observes a partially
// written namespace. Flush is therefore the durability boundary: marks made
// since the last successful Flush are lost on a crash, but confirmed state
// is never lost and never reports a previously-new key as new again.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/linnemanlabs/scout/internal/monitor"
)

// namespace is the on-disk document for one topic.
type namespace struct {
	TopicID     string                        `json:"topic_id"`
	LastChecked time.Time                     `json:"last_checked"`
	Seen        map[string]time.Time          `json:"seen"` // identity key -> first observed
	Counters    map[string]monitor.SinkWindow `json:"counters,omitempty"`
}

// Store keeps one namespace file per topic under root.
type Store struct {
	root string

	mu     sync.Mutex
	topics map[string]*namespace
	dirty  map[string]bool
}

// New opens (or creates) the state directory and returns a Store. Namespaces
// are loaded lazily on first access per topic.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", root, err)
	}
	return &Store{
		root:   root,
		topics: make(map[string]*namespace),
		dirty:  make(map[string]bool),
	}, nil
}

// Seen reports whether the identity key was already recorded for the topic,
// including keys marked since the last flush.
func (s *Store) Seen(_ context.Context, topicID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.load(topicID)
	if err != nil {
		return false, err
	}
	_, ok := ns.Seen[key]
	return ok, nil
}

// MarkSeen buffers the identity key for the topic. Idempotent: an
// already-seen key keeps its original first-observed time and does not dirty
// the namespace.
func (s *Store) MarkSeen(_ context.Context, topicID, key string, observedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.load(topicID)
	if err != nil {
		return err
	}
	if _, ok := ns.Seen[key]; ok {
		return nil
	}
	ns.Seen[key] = observedAt
	s.dirty[topicID] = true
	return nil
}

// Counters returns a copy of the topic's persisted rate-limit counters.
func (s *Store) Counters(_ context.Context, topicID string) (map[string]monitor.SinkWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.load(topicID)
	if err != nil {
		return nil, err
	}
	cp := make(map[string]monitor.SinkWindow, len(ns.Counters))
	for k, v := range ns.Counters {
		cp[k] = v
	}
	return cp, nil
}

// SetCounters buffers the topic's rate-limit counters.
func (s *Store) SetCounters(_ context.Context, topicID string, counters map[string]monitor.SinkWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.load(topicID)
	if err != nil {
		return err
	}
	ns.Counters = make(map[string]monitor.SinkWindow, len(counters))
	for k, v := range counters {
		ns.Counters[k] = v
	}
	s.dirty[topicID] = true
	return nil
}

// LastChecked returns when the topic was last checked, zero if never.
func (s *Store) LastChecked(_ context.Context, topicID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.load(topicID)
	if err != nil {
		return time.Time{}, err
	}
	return ns.LastChecked, nil
}

// SetLastChecked buffers the topic's last check time.
func (s *Store) SetLastChecked(_ context.Context, topicID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.load(topicID)
	if err != nil {
		return err
	}
	ns.LastChecked = t
	s.dirty[topicID] = true
	return nil
}

// Flush writes every dirty namespace to disk atomically. Namespaces flush
// independently; the first write error aborts the flush and leaves the
// remaining namespaces dirty for the next attempt.
func (s *Store) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for topicID := range s.dirty {
		if err := s.writeNamespace(s.topics[topicID]); err != nil {
			return err
		}
		delete(s.dirty, topicID)
	}
	return nil
}

// load returns the in-memory namespace for a topic, reading it from disk on
// first access. Caller holds s.mu.
func (s *Store) load(topicID string) (*namespace, error) {
	if ns, ok := s.topics[topicID]; ok {
		return ns, nil
	}

	path := s.path(topicID)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		ns := &namespace{TopicID: topicID, Seen: make(map[string]time.Time)}
		s.topics[topicID] = ns
		return ns, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read namespace %s: %w", path, err)
	}

	ns := &namespace{}
	if err := json.Unmarshal(raw, ns); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", monitor.ErrStoreCorrupt, path, err)
	}
	if ns.Seen == nil {
		ns.Seen = make(map[string]time.Time)
	}
	ns.TopicID = topicID
	s.topics[topicID] = ns
	return ns, nil
}

// writeNamespace replaces the namespace file via temp file + fsync + rename.
func (s *Store) writeNamespace(ns *namespace) error {
	raw, err := json.MarshalIndent(ns, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal namespace %s: %w", ns.TopicID, err)
	}

	tmp, err := os.CreateTemp(s.root, ns.TopicID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", ns.TopicID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write namespace %s: %w", ns.TopicID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync namespace %s: %w", ns.TopicID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close namespace %s: %w", ns.TopicID, err)
	}

	if err := os.Rename(tmpName, s.path(ns.TopicID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace namespace %s: %w", ns.TopicID, err)
	}
	return nil
}

func (s *Store) path(topicID string) string {
	return filepath.Join(s.root, topicID+".json")
}
