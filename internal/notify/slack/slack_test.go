package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/scout/internal/monitor"
)

func testAlert() *monitor.AlertRecord {
	return &monitor.AlertRecord{
		ID:        "01JAC3TEST",
		TopicID:   "release-watch",
		TopicName: "Release Watch",
		Finding: monitor.Finding{
			Title:   "Go 1.25 Released",
			Snippet: "The Go team announced the release.",
			URL:     "https://example.com/go-1-25",
		},
		Score:     0.82,
		Reason:    "score>=threshold",
		Sinks:     []string{"slack"},
		EmittedAt: time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC),
	}
}

func TestDeliver_PostsBlocks(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	s := New(srv.URL)
	if err := s.Deliver(context.Background(), testAlert()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok || len(blocks) == 0 {
		t.Fatalf("blocks = %v", got["blocks"])
	}
	raw, _ := json.Marshal(got)
	for _, want := range []string{"Release Watch", "Go 1.25 Released", "0.82", "https://example.com/go-1-25", "01JAC3TEST"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestDeliver_NoURLIsNoop(t *testing.T) {
	t.Parallel()

	s := New("")
	if err := s.Deliver(context.Background(), testAlert()); err != nil {
		t.Fatalf("Deliver without webhook: %v", err)
	}
}

func TestDeliver_WebhookErrorSurfaced(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "invalid_token")
	}))
	defer srv.Close()

	err := New(srv.URL).Deliver(context.Background(), testAlert())
	if err == nil {
		t.Fatal("expected error on 403 response")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "invalid_token") {
		t.Errorf("err = %v, want status and body", err)
	}
}

func TestScoreEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reason string
		score  float64
		want   string
	}{
		{"tier alerts red", "tier:urgent", 0.5, "\U0001f534"},
		{"high score yellow", "score>=threshold", 0.85, "\U0001f7e1"},
		{"default green", "score>=threshold", 0.6, "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := testAlert()
			a.Reason = tt.reason
			a.Score = tt.score
			if got := scoreEmoji(a); got != tt.want {
				t.Errorf("scoreEmoji = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildMessage_OmitsEmptyBody(t *testing.T) {
	t.Parallel()

	a := testAlert()
	a.Finding.Snippet = ""
	a.Context = ""
	msg := buildMessage(a)
	raw, _ := json.Marshal(msg)
	if strings.Contains(string(raw), "null") {
		t.Errorf("payload contains null block: %s", raw)
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	if got := New("").Name(); got != "slack" {
		t.Errorf("Name() = %q", got)
	}
}
