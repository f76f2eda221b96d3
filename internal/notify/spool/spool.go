// Package spool queues alerts in a JSON file for an external agent to drain.
//
// Deliver appends to the queue; a separate drain step (Pending, MarkSent)
// lets the agent pick up unsent entries and acknowledge them. The file is
// replaced atomically on every write so a concurrent reader never sees a
// partial queue.
package spool

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

// defaultMaxAge bounds how long sent entries linger before ClearOld drops them.
const defaultMaxAge = 7 * 24 * time.Hour

// Entry is one queued alert.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	TopicName string    `json:"topic_name"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet,omitempty"`
	URL       string    `json:"url,omitempty"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason"`
	Sinks     []string  `json:"sinks"`
	Context   string    `json:"context,omitempty"`
	Sent      bool      `json:"sent"`
	SentAt    time.Time `json:"sent_at,omitzero"`
}

// Sink appends alerts to the queue file.
type Sink struct {
	path string
	mu   sync.Mutex
}

// New creates a spool sink writing to path. The parent directory must exist.
func New(path string) *Sink {
	return &Sink{path: path}
}

// Name implements monitor.Sink.
func (s *Sink) Name() string { return "spool" }

// Deliver appends the alert to the queue. Re-delivering an alert id already
// in the queue is a no-op.
func (s *Sink) Deliver(_ context.Context, a *monitor.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, err := s.read()
	if err != nil {
		return err
	}
	for _, e := range queue {
		if e.ID == a.ID {
			return nil
		}
	}

	queue = append(queue, Entry{
		ID:        a.ID,
		Timestamp: a.EmittedAt,
		Topic:     a.TopicID,
		TopicName: a.TopicName,
		Title:     a.Finding.Title,
		Snippet:   a.Finding.Snippet,
		URL:       a.Finding.URL,
		Score:     a.Score,
		Reason:    a.Reason,
		Sinks:     a.Sinks,
		Context:   a.Context,
	})
	return s.write(queue)
}

// Pending returns all unsent entries in queue order.
func (s *Sink) Pending() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, err := s.read()
	if err != nil {
		return nil, err
	}
	var pending []Entry
	for _, e := range queue {
		if !e.Sent {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// MarkSent records that the entry with the given id was delivered.
// Unknown ids are ignored.
func (s *Sink) MarkSent(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, err := s.read()
	if err != nil {
		return err
	}
	for i := range queue {
		if queue[i].ID == id {
			queue[i].Sent = true
			queue[i].SentAt = at
			break
		}
	}
	return s.write(queue)
}

// ClearOld drops entries older than maxAge (defaultMaxAge if zero).
func (s *Sink) ClearOld(now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queue, err := s.read()
	if err != nil {
		return err
	}
	kept := queue[:0]
	for _, e := range queue {
		if now.Sub(e.Timestamp) <= maxAge {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(queue) {
		return nil
	}
	return s.write(kept)
}

// read loads the queue, treating a missing file as empty. Caller holds s.mu.
func (s *Sink) read() ([]Entry, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read spool %s: %w", s.path, err)
	}

	var queue []Entry
	if err := json.Unmarshal(raw, &queue); err != nil {
		return nil, fmt.Errorf("parse spool %s: %w", s.path, err)
	}
	return queue, nil
}

// write replaces the queue file atomically. Caller holds s.mu.
func (s *Sink) write(queue []Entry) error {
	raw, err := json.MarshalIndent(queue, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal spool: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create spool temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write spool: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close spool: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace spool: %w", err)
	}
	return nil
}
