// Package telegram delivers alerts through the Telegram Bot API.
package telegram

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
	maxSnippetLen = 300
	httpTimeout   = 10 * time.Second
)

// Sink sends alerts to a Telegram chat via the Bot API sendMessage method.
type Sink struct {
	apiURL string
	chatID string
	client *http.Client
}

// New creates a Telegram sink. If botToken is empty, Deliver is a no-op.
func New(botToken, chatID string) *Sink {
	apiURL := ""
	if botToken != "" {
		apiURL = "https://api.telegram.org/bot" + botToken + "/sendMessage"
	}
	return &Sink{
		apiURL: apiURL,
		chatID: chatID,
		client: &http.Client{Timeout: httpTimeout},
	}
}

// Name implements monitor.Sink.
func (s *Sink) Name() string { return "telegram" }

// Deliver posts the alert to the configured chat.
// If no bot token is configured, it returns nil immediately.
func (s *Sink) Deliver(ctx context.Context, a *monitor.AlertRecord) error {
	if s.apiURL == "" {
		return nil
	}

	payload := map[string]any{
		"chat_id":    s.chatID,
		"text":       buildMessage(a),
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: post sendMessage: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: sendMessage returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// buildMessage formats the alert for a chat message.
func buildMessage(a *monitor.AlertRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*%s*\n\n", escapeMarkdown(a.TopicName))
	fmt.Fprintf(&b, "*%s*\n\n", escapeMarkdown(a.Finding.Title))

	if snippet := truncate(a.Finding.Snippet, maxSnippetLen); snippet != "" {
		b.WriteString(escapeMarkdown(snippet))
		b.WriteString("\n\n")
	}
	if a.Context != "" {
		fmt.Fprintf(&b, "_Context: %s_\n\n", escapeMarkdown(a.Context))
	}
	if a.Finding.URL != "" {
		b.WriteString(a.Finding.URL)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "_Score: %.2f | %s_", a.Score, escapeMarkdown(a.Reason))

	return b.String()
}

var markdownEscaper = strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
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
