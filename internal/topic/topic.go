// Package topic defines monitored topics and loads them from the YAML topics file.
package topic

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// idRe constrains topic ids to names safe for state-file paths.
var idRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ErrInvalidConfig is wrapped by all topics-file validation failures.
var ErrInvalidConfig = errors.New("invalid topics config")

// ErrInvalidWeights is returned when scoring weights do not sum to 1.0.
var ErrInvalidWeights = errors.New("scoring weights must sum to 1.0")

// Frequency controls how often a topic is due for a monitoring pass.
type Frequency string

const (
	Hourly Frequency = "hourly"
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
)

// Interval returns the minimum time between checks for the frequency.
func (f Frequency) Interval() time.Duration {
	switch f {
	case Hourly:
		return time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Due reports whether a topic last checked at lastChecked is due again at now.
// A zero lastChecked means the topic has never been checked.
func (f Frequency) Due(lastChecked, now time.Time) bool {
	if lastChecked.IsZero() {
		return true
	}
	return now.Sub(lastChecked) >= f.Interval()
}

// Tier narrows which sinks a finding reaches based on its score.
// A finding qualifies for the highest tier whose MinScore it meets.
type Tier struct {
	Name     string   `yaml:"name"`
	MinScore float64  `yaml:"minScore"`
	Sinks    []string `yaml:"sinks"`
}

// Topic is a named monitoring target. Topics are created from configuration
// at startup and are immutable during a run.
type Topic struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Query     string         `yaml:"query"`
	Keywords  []string       `yaml:"keywords"`
	Frequency Frequency      `yaml:"frequency"`
	Threshold float64        `yaml:"threshold"` // minimum importance score, inclusive
	Sinks     []string       `yaml:"sinks"`     // enabled sink names
	Tiers     []Tier         `yaml:"tiers"`     // optional score-tier narrowing
	Caps      map[string]int `yaml:"caps"`      // per-sink alerts per rate window
	Context   string         `yaml:"context"`   // why this topic matters, echoed in alerts
}

// Weights configures the scorer's signal blend. The three weights must sum to 1.0.
type Weights struct {
	Rank     float64 `yaml:"rank"`
	Keywords float64 `yaml:"keywords"`
	Recency  float64 `yaml:"recency"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Rank + w.Keywords + w.Recency
}

// Settings holds global monitoring knobs shared by all topics.
type Settings struct {
	Weights    Weights       `yaml:"weights"`
	RateWindow time.Duration `yaml:"rateWindow"` // fixed rate-limit window, default 24h
	GlobalCap  int           `yaml:"globalCap"`  // alerts across all topics per window, 0 = unlimited
}

// File is the parsed topics configuration file.
type File struct {
	Settings Settings `yaml:"settings"`
	Topics   []Topic  `yaml:"topics"`
}

// DefaultSettings are applied for fields the file leaves unset.
func DefaultSettings() Settings {
	return Settings{
		Weights:    Weights{Rank: 0.4, Keywords: 0.4, Recency: 0.2},
		RateWindow: 24 * time.Hour,
	}
}

// Load reads and parses the topics file at path. Call Validate before use.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topics file: %w", err)
	}

	f := &File{Settings: DefaultSettings()}
	if err := yaml.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if f.Settings.RateWindow <= 0 {
		f.Settings.RateWindow = DefaultSettings().RateWindow
	}
	if f.Settings.Weights == (Weights{}) {
		f.Settings.Weights = DefaultSettings().Weights
	}
	return f, nil
}

// Validate checks the whole file for correctness. It returns an error
// wrapping ErrInvalidConfig (or ErrInvalidWeights for the weight-sum rule)
// if anything is invalid, so the caller can fail fast before the first cycle.
func (f *File) Validate() error {
	var errs []error

	if err := f.Settings.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}
	if f.Settings.GlobalCap < 0 {
		errs = append(errs, fmt.Errorf("globalCap %d must not be negative", f.Settings.GlobalCap))
	}

	if len(f.Topics) == 0 {
		errs = append(errs, errors.New("no topics configured"))
	}

	ids := make(map[string]bool, len(f.Topics))
	for i := range f.Topics {
		t := &f.Topics[i]
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("topic %d: id is required", i))
			continue
		}
		if !idRe.MatchString(t.ID) {
			errs = append(errs, fmt.Errorf("topic %q: id must match %s", t.ID, idRe))
		}
		if ids[t.ID] {
			errs = append(errs, fmt.Errorf("topic %q: duplicate id", t.ID))
		}
		ids[t.ID] = true

		if t.Query == "" {
			errs = append(errs, fmt.Errorf("topic %q: query is required", t.ID))
		}
		if t.Threshold < 0 || t.Threshold > 1 {
			errs = append(errs, fmt.Errorf("topic %q: threshold %v outside [0,1]", t.ID, t.Threshold))
		}
		switch t.Frequency {
		case "":
			t.Frequency = Daily
		case Hourly, Daily, Weekly:
		default:
			errs = append(errs, fmt.Errorf("topic %q: unknown frequency %q", t.ID, t.Frequency))
		}
		if len(t.Sinks) == 0 {
			errs = append(errs, fmt.Errorf("topic %q: at least one sink is required", t.ID))
		}

		enabled := make(map[string]bool, len(t.Sinks))
		for _, s := range t.Sinks {
			enabled[s] = true
		}
		for _, tier := range t.Tiers {
			if tier.MinScore < 0 || tier.MinScore > 1 {
				errs = append(errs, fmt.Errorf("topic %q: tier %q minScore %v outside [0,1]", t.ID, tier.Name, tier.MinScore))
			}
			for _, s := range tier.Sinks {
				if !enabled[s] {
					errs = append(errs, fmt.Errorf("topic %q: tier %q references sink %q not in topic sinks", t.ID, tier.Name, s))
				}
			}
		}
		for sink, limit := range t.Caps {
			if limit <= 0 {
				errs = append(errs, fmt.Errorf("topic %q: cap for sink %q must be positive, got %d", t.ID, sink, limit))
			}
			if !enabled[sink] {
				errs = append(errs, fmt.Errorf("topic %q: cap references sink %q not in topic sinks", t.ID, sink))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks that the weights are non-negative and sum to 1.0.
func (w Weights) Validate() error {
	if w.Rank < 0 || w.Keywords < 0 || w.Recency < 0 {
		return fmt.Errorf("%w: weights must be non-negative (rank=%v keywords=%v recency=%v)",
			ErrInvalidWeights, w.Rank, w.Keywords, w.Recency)
	}
	if math.Abs(w.Sum()-1.0) > 1e-9 {
		return fmt.Errorf("%w: got %v", ErrInvalidWeights, w.Sum())
	}
	return nil
}

// ByID returns the topic with the given id, if present.
func (f *File) ByID(id string) (*Topic, bool) {
	for i := range f.Topics {
		if f.Topics[i].ID == id {
			return &f.Topics[i], true
		}
	}
	return nil, false
}

// Cap returns the per-window alert cap for the given sink, 0 meaning uncapped.
func (t *Topic) Cap(sink string) int {
	return t.Caps[sink]
}
