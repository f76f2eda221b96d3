package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/scout/internal/monitor"
)

func TestSeenAndMarkSeen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	seen, err := s.Seen(ctx, "alpha", "key1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Error("fresh store reports key as seen")
	}

	if err := s.MarkSeen(ctx, "alpha", "key1", time.Now()); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	seen, err = s.Seen(ctx, "alpha", "key1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !seen {
		t.Error("marked key not reported as seen")
	}

	// Other topics stay isolated.
	seen, _ = s.Seen(ctx, "beta", "key1")
	if seen {
		t.Error("identity keys must be scoped per topic")
	}
}

func TestCounters_RoundTripAndCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	ws := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)

	in := map[string]monitor.SinkWindow{"telegram": {WindowStart: ws, Count: 2}}
	if err := s.SetCounters(ctx, "alpha", in); err != nil {
		t.Fatalf("SetCounters: %v", err)
	}

	// Mutating the caller's map after the fact must not leak in.
	in["telegram"] = monitor.SinkWindow{Count: 99}

	got, err := s.Counters(ctx, "alpha")
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if got["telegram"].Count != 2 || !got["telegram"].WindowStart.Equal(ws) {
		t.Errorf("counters = %+v, want stored snapshot", got["telegram"])
	}

	// And the returned map is a copy too.
	got["telegram"] = monitor.SinkWindow{Count: 7}
	again, _ := s.Counters(ctx, "alpha")
	if again["telegram"].Count != 2 {
		t.Error("Counters returned a live reference, want a copy")
	}
}

func TestLastChecked(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	lc, err := s.LastChecked(ctx, "alpha")
	if err != nil {
		t.Fatalf("LastChecked: %v", err)
	}
	if !lc.IsZero() {
		t.Errorf("unchecked topic = %v, want zero time", lc)
	}

	checked := time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC)
	if err := s.SetLastChecked(ctx, "alpha", checked); err != nil {
		t.Fatalf("SetLastChecked: %v", err)
	}
	lc, _ = s.LastChecked(ctx, "alpha")
	if !lc.Equal(checked) {
		t.Errorf("last checked = %v, want %v", lc, checked)
	}
}

func TestMarkSeen_IdempotentUnderConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	first := time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.MarkSeen(ctx, "alpha", "key1", first.Add(time.Duration(i)*time.Minute))
		}(i)
	}
	wg.Wait()

	seen, err := s.Seen(ctx, "alpha", "key1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !seen {
		t.Error("key not seen after concurrent marks")
	}
}
