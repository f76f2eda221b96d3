package monitor

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/linnemanlabs/scout/internal/topic"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewScorer_RejectsBadWeights(t *testing.T) {
	t.Parallel()

	flat := func(v float64) Signal {
		return func(*Finding, *topic.Topic) float64 { return v }
	}

	tests := []struct {
		name    string
		signals []WeightedSignal
		wantErr bool
	}{
		{
			"sums to one",
			[]WeightedSignal{
				{Name: "a", Weight: 0.4, Fn: flat(1)},
				{Name: "b", Weight: 0.6, Fn: flat(1)},
			},
			false,
		},
		{
			"sums below one",
			[]WeightedSignal{
				{Name: "a", Weight: 0.4, Fn: flat(1)},
				{Name: "b", Weight: 0.4, Fn: flat(1)},
			},
			true,
		},
		{
			"negative weight",
			[]WeightedSignal{
				{Name: "a", Weight: -0.2, Fn: flat(1)},
				{Name: "b", Weight: 1.2, Fn: flat(1)},
			},
			true,
		},
		{
			"single full weight",
			[]WeightedSignal{{Name: "a", Weight: 1.0, Fn: flat(1)}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewScorer(tt.signals)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewScorer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, topic.ErrInvalidWeights) {
				t.Errorf("error %v does not wrap ErrInvalidWeights", err)
			}
		})
	}
}

func TestScore_WeightedBlendAndClamp(t *testing.T) {
	t.Parallel()

	flat := func(v float64) Signal {
		return func(*Finding, *topic.Topic) float64 { return v }
	}

	s, err := NewScorer([]WeightedSignal{
		{Name: "a", Weight: 0.5, Fn: flat(1.0)},
		{Name: "b", Weight: 0.5, Fn: flat(0.2)},
	})
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}

	got := s.Score(&Finding{}, &topic.Topic{})
	if !almostEqual(got, 0.6) {
		t.Errorf("Score = %v, want 0.6", got)
	}

	// Out-of-range signal values are clamped before weighting.
	s2, _ := NewScorer([]WeightedSignal{
		{Name: "hot", Weight: 0.5, Fn: flat(7.0)},
		{Name: "cold", Weight: 0.5, Fn: flat(-3.0)},
	})
	got = s2.Score(&Finding{}, &topic.Topic{})
	if !almostEqual(got, 0.5) {
		t.Errorf("clamped Score = %v, want 0.5", got)
	}
}

func TestRankSignal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rank int
		want float64
	}{
		{1, 1.0},
		{2, 0.9},
		{5, 0.6},
		{10, 0.1},
		{50, 0.1}, // floor
		{0, 0.5},  // unknown
		{-1, 0.5},
	}

	for _, tt := range tests {
		got := RankSignal(&Finding{Rank: tt.rank}, nil)
		if !almostEqual(got, tt.want) {
			t.Errorf("RankSignal(rank=%d) = %v, want %v", tt.rank, got, tt.want)
		}
	}
}

func TestKeywordSignal(t *testing.T) {
	t.Parallel()

	top := &topic.Topic{
		Query:    "kubernetes release",
		Keywords: []string{"kubernetes", "CVE", "patch"},
	}

	tests := []struct {
		name    string
		title   string
		snippet string
		want    float64
	}{
		{"all present", "Kubernetes CVE patch released", "", 1.0},
		{"one of three", "kubernetes 1.31 ships", "", 1.0 / 3},
		{"case insensitive", "KUBERNETES cve PATCH", "", 1.0},
		{"split across title and snippet", "kubernetes update", "includes a CVE patch", 1.0},
		{"none", "unrelated news", "about something else", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &Finding{Title: tt.title, Snippet: tt.snippet}
			if got := KeywordSignal(f, top); !almostEqual(got, tt.want) {
				t.Errorf("KeywordSignal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeywordSignal_FallsBackToQueryTerms(t *testing.T) {
	t.Parallel()

	top := &topic.Topic{Query: "rust compiler"}
	f := &Finding{Title: "New Rust release", Snippet: "compiler improvements"}
	if got := KeywordSignal(f, top); !almostEqual(got, 1.0) {
		t.Errorf("KeywordSignal = %v, want 1.0 from query terms", got)
	}

	empty := &topic.Topic{}
	if got := KeywordSignal(f, empty); got != 0 {
		t.Errorf("KeywordSignal with no terms = %v, want 0", got)
	}
}

func TestRecencySignal(t *testing.T) {
	t.Parallel()

	observed := time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		published time.Time
		want      float64
	}{
		{"no published date", time.Time{}, 0.5},
		{"future date", observed.Add(2 * time.Hour), 1.0},
		{"just published", observed, 1.0},
		{"one half-life old", observed.Add(-48 * time.Hour), 0.5},
		{"two half-lives old", observed.Add(-96 * time.Hour), 0.0},
		{"ancient", observed.Add(-1000 * time.Hour), 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &Finding{PublishedAt: tt.published, ObservedAt: observed}
			if got := RecencySignal(f, nil); !almostEqual(got, tt.want) {
				t.Errorf("RecencySignal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultSignals_MatchesConfiguredWeights(t *testing.T) {
	t.Parallel()

	w := topic.Weights{Rank: 0.4, Keywords: 0.4, Recency: 0.2}
	signals := DefaultSignals(w)
	if len(signals) != 3 {
		t.Fatalf("len(signals) = %d, want 3", len(signals))
	}

	s, err := NewScorer(signals)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}

	// Rank 1, all keywords hit, fresh publish date: the maximum score.
	top := &topic.Topic{Keywords: []string{"go"}}
	f := &Finding{
		Title:       "go release",
		Rank:        1,
		PublishedAt: obsTime,
		ObservedAt:  obsTime,
	}
	if got := s.Score(f, top); !almostEqual(got, 1.0) {
		t.Errorf("max-signal Score = %v, want 1.0", got)
	}
}
