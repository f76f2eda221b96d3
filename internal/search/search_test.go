package search

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/scout/internal/monitor"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*Config)
		errSubstr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing command", func(c *Config) { c.Command = "" }, "search-command"},
		{"zero max results", func(c *Config) { c.MaxResults = 0 }, "search-max-results"},
		{"negative max results", func(c *Config) { c.MaxResults = -1 }, "search-max-results"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Config{Command: "provider", MaxResults: 5}
			tt.mutate(&c)
			err := c.Validate()
			if tt.errSubstr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errSubstr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.errSubstr)
			}
		})
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.MaxResults != 5 {
		t.Errorf("MaxResults default = %d, want 5", c.MaxResults)
	}
	if c.Command != "" {
		t.Errorf("Command default = %q, want empty", c.Command)
	}
}

func TestSanitizeQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "kubernetes release", "kubernetes release"},
		{"strips newlines and tabs", "a\nb\tc", "abc"},
		{"strips delete char", "a\x7fb", "ab"},
		{"keeps unicode", "gΦ release", "gΦ release"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := sanitizeQuery(tt.in); got != tt.want {
				t.Errorf("sanitizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	long := strings.Repeat("x", maxQueryLen+100)
	if got := sanitizeQuery(long); len(got) != maxQueryLen {
		t.Errorf("long query length = %d, want %d", len(sanitizeQuery(long)), maxQueryLen)
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b ,, c ", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		got := splitList(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
			}
		}
	}
}

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	t.Run("clean document", func(t *testing.T) {
		t.Parallel()
		env, err := parseEnvelope([]byte(`{"provider":"brave","results":[{"title":"hit","url":"https://example.com"}]}`))
		if err != nil {
			t.Fatalf("parseEnvelope: %v", err)
		}
		if env.Provider != "brave" || len(env.Results) != 1 {
			t.Errorf("envelope = %+v", env)
		}
	})

	t.Run("noise before document", func(t *testing.T) {
		t.Parallel()
		out := "Initializing provider...\nfetching\n" + `{"provider":"brave","results":[]}`
		env, err := parseEnvelope([]byte(out))
		if err != nil {
			t.Fatalf("parseEnvelope: %v", err)
		}
		if env.Provider != "brave" {
			t.Errorf("provider = %q", env.Provider)
		}
	})

	t.Run("no json", func(t *testing.T) {
		t.Parallel()
		_, err := parseEnvelope([]byte("nothing useful here"))
		if !errors.Is(err, monitor.ErrSearchUnavailable) {
			t.Errorf("err = %v, want ErrSearchUnavailable", err)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		_, err := parseEnvelope([]byte(`{"provider": "brave", "results": [`))
		if !errors.Is(err, monitor.ErrSearchUnavailable) {
			t.Errorf("err = %v, want ErrSearchUnavailable", err)
		}
	})
}

func TestEnv_Allowlist(t *testing.T) {
	t.Setenv("SCOUT_TEST_SECRET", "hunter2")
	t.Setenv("SCOUT_TEST_LEAKY", "should-not-pass")

	s := NewSubprocess(Config{
		Command:    "provider",
		MaxResults: 5,
		CredEnv:    "SCOUT_TEST_SECRET",
	}, log.Nop())

	env := s.env()
	var gotSecret, gotLeaky bool
	for _, kv := range env {
		if strings.HasPrefix(kv, "SCOUT_TEST_SECRET=") {
			gotSecret = true
		}
		if strings.HasPrefix(kv, "SCOUT_TEST_LEAKY=") {
			gotLeaky = true
		}
	}
	if !gotSecret {
		t.Error("configured credential var not forwarded")
	}
	if gotLeaky {
		t.Error("unconfigured env var leaked into the subprocess environment")
	}
}

// writeProviderScript drops an executable shell script acting as a provider.
func writeProviderScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script providers need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "provider.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestSearch_ParsesProviderOutput(t *testing.T) {
	t.Parallel()

	script := writeProviderScript(t, `echo '{"provider":"test","results":[{"title":"hit one","url":"https://example.com/1","rank":1}]}'`)
	s := NewSubprocess(Config{Command: script, MaxResults: 5}, log.Nop())

	results, err := s.Search(context.Background(), "some query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "hit one" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearch_CommandFailure(t *testing.T) {
	t.Parallel()

	script := writeProviderScript(t, `echo "boom" >&2; exit 3`)
	s := NewSubprocess(Config{Command: script, MaxResults: 5}, log.Nop())

	_, err := s.Search(context.Background(), "q")
	if !errors.Is(err, monitor.ErrSearchUnavailable) {
		t.Fatalf("err = %v, want ErrSearchUnavailable", err)
	}
	if !strings.Contains(err.Error(), "3") {
		t.Errorf("err %v does not carry the exit code", err)
	}
}

func TestSearch_Timeout(t *testing.T) {
	t.Parallel()

	script := writeProviderScript(t, `sleep 5`)
	s := NewSubprocess(Config{Command: script, MaxResults: 5}, log.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Search(ctx, "q")
	if !errors.Is(err, monitor.ErrSearchTimeout) {
		t.Fatalf("err = %v, want ErrSearchTimeout", err)
	}
}

func TestSearch_MissingCommand(t *testing.T) {
	t.Parallel()

	s := NewSubprocess(Config{Command: "/nonexistent/provider", MaxResults: 5}, log.Nop())
	_, err := s.Search(context.Background(), "q")
	if !errors.Is(err, monitor.ErrSearchUnavailable) {
		t.Fatalf("err = %v, want ErrSearchUnavailable", err)
	}
}
