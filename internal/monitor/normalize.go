package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Normalize converts one raw search result into a Finding with a stable
// identity key. It is pure and deterministic: two raw results whose
// identifying fields differ only in case, surrounding whitespace, or trailing
// slashes normalize to the same key. Returns ErrMalformedResult when the raw
// result has neither a URL nor a title.
func Normalize(raw RawResult, topicID string, observedAt time.Time) (Finding, error) {
	title := strings.TrimSpace(raw.Title)
	rawURL := strings.TrimSpace(raw.URL)

	if title == "" && rawURL == "" {
		return Finding{}, fmt.Errorf("%w: no url and no title", ErrMalformedResult)
	}

	canonical := canonicalURL(rawURL)

	return Finding{
		IdentityKey: IdentityKey(canonical, title),
		TopicID:     topicID,
		Title:       title,
		URL:         rawURL,
		Snippet:     strings.TrimSpace(raw.Snippet),
		Provider:    raw.Provider,
		Rank:        raw.Rank,
		PublishedAt: raw.PublishedAt,
		ObservedAt:  observedAt,
	}, nil
}

// IdentityKey fingerprints a finding for deduplication. The inputs must
// already be canonicalized; the key is a hex SHA-256 over both fields with a
// separator so ("ab","c") and ("a","bc") cannot collide.
func IdentityKey(canonicalURL, title string) string {
	h := sha256.New()
	h.Write([]byte(canonicalURL))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(title)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalURL reduces a URL to its identity-relevant form: lowercased scheme
// and host, default ports stripped, fragment dropped, trailing slash trimmed.
// Unparseable URLs fall back to lowercased trimmed input so normalization
// never fails on an odd provider URL.
func canonicalURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(raw, "/"))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Path = strings.TrimRight(u.Path, "/")

	return u.String()
}
