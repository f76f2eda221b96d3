// Package slack delivers alerts to a Slack channel via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/scout/internal/monitor"
)

const (
	maxSnippetLen = 3000
	httpTimeout   = 10 * time.Second
)

// Sink sends alerts to a Slack webhook.
type Sink struct {
	webhookURL string
	client     *http.Client
}

// New creates a Slack sink. If webhookURL is empty, Deliver is a no-op.
func New(webhookURL string) *Sink {
	return &Sink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Name implements monitor.Sink.
func (s *Sink) Name() string { return "slack" }

// Deliver posts the alert to the configured webhook.
// If no webhook URL is configured, it returns nil immediately.
func (s *Sink) Deliver(ctx context.Context, a *monitor.AlertRecord) error {
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(a))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(a *monitor.AlertRecord) map[string]any {
	blocks := []map[string]any{
		headerBlock(a),
		{"type": "divider"},
		fieldsBlock(a),
	}
	if body := bodyBlock(a); body != nil {
		blocks = append(blocks, map[string]any{"type": "divider"}, body)
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(a))

	return map[string]any{"blocks": blocks}
}

func headerBlock(a *monitor.AlertRecord) map[string]any {
	text := fmt.Sprintf("%s %s: %s", scoreEmoji(a), a.TopicName, a.Finding.Title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(a *monitor.AlertRecord) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Topic:* %s", a.TopicID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Score:* %.2f", a.Score),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reason:* %s", a.Reason),
		},
	}
	if a.Finding.URL != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Link:* <%s>", a.Finding.URL),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func bodyBlock(a *monitor.AlertRecord) map[string]any {
	var b strings.Builder
	if snippet := truncate(a.Finding.Snippet, maxSnippetLen); snippet != "" {
		b.WriteString(snippet)
	}
	if a.Context != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "_%s_", a.Context)
	}
	if b.Len() == 0 {
		return nil
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": b.String(),
		},
	}
}

func contextBlock(a *monitor.AlertRecord) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("scout • alert %s • %s", a.ID, a.EmittedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func scoreEmoji(a *monitor.AlertRecord) string {
	if strings.HasPrefix(a.Reason, "tier:") {
		return "\U0001f534" // red circle
	}
	if a.Score >= 0.8 {
		return "\U0001f7e1" // yellow circle
	}
	return "\U0001f7e2" // green circle
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
