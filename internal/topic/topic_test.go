package topic

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validFile() *File {
	return &File{
		Settings: DefaultSettings(),
		Topics: []Topic{
			{
				ID:        "release-watch",
				Name:      "Release Watch",
				Query:     "new framework release",
				Keywords:  []string{"release", "changelog"},
				Frequency: Daily,
				Threshold: 0.6,
				Sinks:     []string{"telegram", "spool"},
			},
		},
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "topics.yaml")
	doc := `
settings:
  weights:
    rank: 0.5
    keywords: 0.3
    recency: 0.2
  rateWindow: 12h
  globalCap: 10
topics:
  - id: release-watch
    name: Release Watch
    query: new framework release
    keywords: [release, changelog]
    frequency: hourly
    threshold: 0.7
    sinks: [telegram]
    caps:
      telegram: 3
    tiers:
      - name: urgent
        minScore: 0.9
        sinks: [telegram]
    context: tracks upstream releases
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write topics file: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if got, want := f.Settings.Weights.Rank, 0.5; got != want {
		t.Errorf("weights.rank = %v, want %v", got, want)
	}
	if got, want := f.Settings.RateWindow, 12*time.Hour; got != want {
		t.Errorf("rateWindow = %v, want %v", got, want)
	}
	if got, want := f.Settings.GlobalCap, 10; got != want {
		t.Errorf("globalCap = %d, want %d", got, want)
	}

	top, ok := f.ByID("release-watch")
	if !ok {
		t.Fatal("ByID(release-watch) not found")
	}
	if top.Frequency != Hourly {
		t.Errorf("frequency = %q, want hourly", top.Frequency)
	}
	if top.Threshold != 0.7 {
		t.Errorf("threshold = %v, want 0.7", top.Threshold)
	}
	if got := top.Cap("telegram"); got != 3 {
		t.Errorf("Cap(telegram) = %d, want 3", got)
	}
	if got := top.Cap("discord"); got != 0 {
		t.Errorf("Cap(discord) = %d, want 0 (uncapped)", got)
	}
	if len(top.Tiers) != 1 || top.Tiers[0].MinScore != 0.9 {
		t.Errorf("tiers = %+v, want one tier at 0.9", top.Tiers)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "topics.yaml")
	doc := `
topics:
  - id: quiet
    query: something
    sinks: [spool]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write topics file: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	def := DefaultSettings()
	if f.Settings.Weights != def.Weights {
		t.Errorf("weights = %+v, want defaults %+v", f.Settings.Weights, def.Weights)
	}
	if f.Settings.RateWindow != def.RateWindow {
		t.Errorf("rateWindow = %v, want %v", f.Settings.RateWindow, def.RateWindow)
	}
	if f.Topics[0].Frequency != Daily {
		t.Errorf("frequency = %q, want daily default", f.Topics[0].Frequency)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "topics.yaml")
	if err := os.WriteFile(path, []byte("topics: [unclosed"), 0o644); err != nil {
		t.Fatalf("write topics file: %v", err)
	}

	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load error = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*File)
		wantErr   bool
		errSubstr string
	}{
		{"valid", func(*File) {}, false, ""},
		{
			"no topics",
			func(f *File) { f.Topics = nil },
			true, "no topics",
		},
		{
			"missing id",
			func(f *File) { f.Topics[0].ID = "" },
			true, "id is required",
		},
		{
			"id unsafe for paths",
			func(f *File) { f.Topics[0].ID = "../escape" },
			true, "id must match",
		},
		{
			"duplicate ids",
			func(f *File) { f.Topics = append(f.Topics, f.Topics[0]) },
			true, "duplicate id",
		},
		{
			"missing query",
			func(f *File) { f.Topics[0].Query = "" },
			true, "query is required",
		},
		{
			"threshold above one",
			func(f *File) { f.Topics[0].Threshold = 1.5 },
			true, "threshold",
		},
		{
			"threshold negative",
			func(f *File) { f.Topics[0].Threshold = -0.1 },
			true, "threshold",
		},
		{
			"threshold boundaries ok",
			func(f *File) { f.Topics[0].Threshold = 1.0 },
			false, "",
		},
		{
			"unknown frequency",
			func(f *File) { f.Topics[0].Frequency = "fortnightly" },
			true, "unknown frequency",
		},
		{
			"no sinks",
			func(f *File) { f.Topics[0].Sinks = nil },
			true, "at least one sink",
		},
		{
			"tier references unknown sink",
			func(f *File) {
				f.Topics[0].Tiers = []Tier{{Name: "urgent", MinScore: 0.9, Sinks: []string{"pager"}}}
			},
			true, "tier",
		},
		{
			"tier minScore out of range",
			func(f *File) {
				f.Topics[0].Tiers = []Tier{{Name: "urgent", MinScore: 1.2, Sinks: []string{"telegram"}}}
			},
			true, "minScore",
		},
		{
			"cap for unknown sink",
			func(f *File) { f.Topics[0].Caps = map[string]int{"pager": 2} },
			true, "cap references sink",
		},
		{
			"cap must be positive",
			func(f *File) { f.Topics[0].Caps = map[string]int{"telegram": 0} },
			true, "must be positive",
		},
		{
			"weights must sum to one",
			func(f *File) { f.Settings.Weights = Weights{Rank: 0.5, Keywords: 0.5, Recency: 0.5} },
			true, "sum to 1.0",
		},
		{
			"negative global cap",
			func(f *File) { f.Settings.GlobalCap = -1 },
			true, "globalCap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := validFile()
			tt.mutate(f)

			err := f.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("error %v does not wrap ErrInvalidConfig", err)
				}
				if tt.errSubstr != "" && !strings.Contains(err.Error(), tt.errSubstr) {
					t.Errorf("error %q does not contain %q", err, tt.errSubstr)
				}
			}
		})
	}
}

func TestWeightsValidate_WrapsErrInvalidWeights(t *testing.T) {
	t.Parallel()

	w := Weights{Rank: 0.7, Keywords: 0.7, Recency: 0.0}
	if err := w.Validate(); !errors.Is(err, ErrInvalidWeights) {
		t.Errorf("Validate() = %v, want ErrInvalidWeights", err)
	}

	neg := Weights{Rank: -0.2, Keywords: 0.8, Recency: 0.4}
	if err := neg.Validate(); !errors.Is(err, ErrInvalidWeights) {
		t.Errorf("Validate() negative = %v, want ErrInvalidWeights", err)
	}

	ok := Weights{Rank: 0.4, Keywords: 0.4, Recency: 0.2}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestFrequency_Due(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		freq        Frequency
		lastChecked time.Time
		want        bool
	}{
		{"never checked", Daily, time.Time{}, true},
		{"hourly due", Hourly, now.Add(-61 * time.Minute), true},
		{"hourly exactly at interval", Hourly, now.Add(-time.Hour), true},
		{"hourly not due", Hourly, now.Add(-30 * time.Minute), false},
		{"daily due", Daily, now.Add(-25 * time.Hour), true},
		{"daily not due", Daily, now.Add(-23 * time.Hour), false},
		{"weekly due", Weekly, now.Add(-8 * 24 * time.Hour), true},
		{"weekly not due", Weekly, now.Add(-6 * 24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.freq.Due(tt.lastChecked, now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}
