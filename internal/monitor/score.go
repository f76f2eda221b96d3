package monitor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/linnemanlabs/scout/internal/topic"
)

// Signal computes one scoring component in [0,1] for a finding.
// Signals must be pure functions of their inputs.
type Signal func(f *Finding, t *topic.Topic) float64

// WeightedSignal pairs a named signal with its blend weight.
type WeightedSignal struct {
	Name   string
	Weight float64
	Fn     Signal
}

// Scorer combines an ordered list of weighted signals into one importance
// score via a weighted average. Weights are validated at construction.
type Scorer struct {
	signals []WeightedSignal
}

// NewScorer validates the signal weights and returns a Scorer. The weights
// must be non-negative and sum to 1.0; otherwise the topic package's
// ErrInvalidWeights is returned.
func NewScorer(signals []WeightedSignal) (*Scorer, error) {
	var sum float64
	for _, s := range signals {
		if s.Weight < 0 {
			return nil, fmt.Errorf("%w: signal %q has negative weight %v", topic.ErrInvalidWeights, s.Name, s.Weight)
		}
		sum += s.Weight
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return nil, fmt.Errorf("%w: got %v", topic.ErrInvalidWeights, sum)
	}
	return &Scorer{signals: signals}, nil
}

// Score returns the weighted importance of a finding, clamped to [0,1].
func (s *Scorer) Score(f *Finding, t *topic.Topic) float64 {
	var total float64
	for _, ws := range s.signals {
		v := ws.Fn(f, t)
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		total += ws.Weight * v
	}
	if total < 0 {
		return 0
	}
	if total > 1 {
		return 1
	}
	return total
}

// DefaultSignals builds the standard rank/keywords/recency blend from the
// configured weights.
func DefaultSignals(w topic.Weights) []WeightedSignal {
	return []WeightedSignal{
		{Name: "rank", Weight: w.Rank, Fn: RankSignal},
		{Name: "keywords", Weight: w.Keywords, Fn: KeywordSignal},
		{Name: "recency", Weight: w.Recency, Fn: RecencySignal},
	}
}

// RankSignal maps provider rank to [0,1]: position 1 scores 1.0, each lower
// position loses 0.1, floor 0.1. Unknown rank scores a neutral 0.5.
func RankSignal(f *Finding, _ *topic.Topic) float64 {
	if f.Rank <= 0 {
		return 0.5
	}
	v := 1.0 - 0.1*float64(f.Rank-1)
	if v < 0.1 {
		v = 0.1
	}
	return v
}

// KeywordSignal is the fraction of the topic's keywords (falling back to
// query terms) found in the finding's title or snippet, case-insensitive.
func KeywordSignal(f *Finding, t *topic.Topic) float64 {
	terms := t.Keywords
	if len(terms) == 0 {
		terms = strings.Fields(t.Query)
	}
	if len(terms) == 0 {
		return 0
	}

	haystack := strings.ToLower(f.Title + " " + f.Snippet)
	var hits int
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(term)) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// recencyHalfLife is the age at which the recency signal decays to 0.5.
const recencyHalfLife = 48 * time.Hour

// RecencySignal scores how fresh the finding's published date is relative to
// when it was observed, with linear decay over two half-lives. Findings with
// no published date score a neutral 0.5; future dates score 1.0.
func RecencySignal(f *Finding, _ *topic.Topic) float64 {
	if f.PublishedAt.IsZero() {
		return 0.5
	}
	age := f.ObservedAt.Sub(f.PublishedAt)
	if age <= 0 {
		return 1.0
	}
	v := 1.0 - float64(age)/float64(2*recencyHalfLife)
	if v < 0 {
		return 0
	}
	return v
}
