// Package discord delivers alerts to a Discord channel via incoming webhooks.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/scout/internal/monitor"
)

const (
	maxSnippetLen = 300
	httpTimeout   = 10 * time.Second

	// embed accent colors per alert reason prefix
	colorTier    = 0xe74c3c // red, tier-qualified alerts
	colorDefault = 0x3498db // blue
)

// Sink sends alerts to a Discord webhook.
type Sink struct {
	webhookURL string
	client     *http.Client
}

// New creates a Discord sink. If webhookURL is empty, Deliver is a no-op.
func New(webhookURL string) *Sink {
	return &Sink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Name implements monitor.Sink.
func (s *Sink) Name() string { return "discord" }

// Deliver posts the alert to the configured webhook.
// If no webhook URL is configured, it returns nil immediately.
func (s *Sink) Deliver(ctx context.Context, a *monitor.AlertRecord) error {
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(a))
	if err != nil {
		return fmt.Errorf("discord: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(a *monitor.AlertRecord) map[string]any {
	embed := map[string]any{
		"title":       truncate(a.Finding.Title, 256),
		"description": truncate(a.Finding.Snippet, maxSnippetLen),
		"url":         a.Finding.URL,
		"color":       embedColor(a),
		"fields": []map[string]any{
			{"name": "Topic", "value": a.TopicName, "inline": true},
			{"name": "Score", "value": fmt.Sprintf("%.2f", a.Score), "inline": true},
			{"name": "Reason", "value": a.Reason, "inline": true},
		},
		"footer": map[string]any{
			"text": fmt.Sprintf("scout • %s", a.ID),
		},
		"timestamp": a.EmittedAt.UTC().Format(time.RFC3339),
	}
	if a.Context != "" {
		embed["fields"] = append(embed["fields"].([]map[string]any),
			map[string]any{"name": "Context", "value": truncate(a.Context, 1024)})
	}

	return map[string]any{"embeds": []map[string]any{embed}}
}

func embedColor(a *monitor.AlertRecord) int {
	if len(a.Reason) >= 5 && a.Reason[:5] == "tier:" {
		return colorTier
	}
	return colorDefault
}

// truncate shortens s to at most limit bytes, backing up to a rune
// boundary so a multi-byte character is never split.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
