// Package search runs topic queries through an external search command.
//
// The command is an arbitrary provider CLI (query in, JSON envelope out).
// It runs with a sanitized environment so provider credentials are passed
// deliberately rather than inherited wholesale from the parent process.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/scout/internal/monitor"
)

// maxQueryLen bounds the query passed to the provider command.
const maxQueryLen = 500

// baseEnvAllowlist is always passed through to the provider command.
var baseEnvAllowlist = []string{"PATH", "HOME", "LANG", "TERM"}

// Config holds search adapter settings registered as flags by main.
type Config struct {
	Command    string // provider executable
	Args       string // comma-separated fixed arguments placed before the query
	MaxResults int
	CredEnv    string // comma-separated env var names forwarded to the command
}

// RegisterFlags registers search flags on fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Command, "search-command", "", "search provider command (required)")
	fs.StringVar(&c.Args, "search-args", "", "comma-separated fixed arguments prepended to the query")
	fs.IntVar(&c.MaxResults, "search-max-results", 5, "maximum results requested per query")
	fs.StringVar(&c.CredEnv, "search-cred-env", "", "comma-separated credential env vars forwarded to the command")
}

// Validate checks the search configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Command == "" {
		errs = append(errs, errors.New("search-command is required"))
	}
	if c.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("search-max-results must be positive, got %d", c.MaxResults))
	}
	return errors.Join(errs...)
}

// envelope is the provider's stdout document.
type envelope struct {
	Provider string              `json:"provider"`
	Results  []monitor.RawResult `json:"results"`
}

// Subprocess invokes the provider command once per query.
type Subprocess struct {
	command    string
	args       []string
	maxResults int
	credEnv    []string
	logger     log.Logger
}

// NewSubprocess builds a Subprocess searcher from config.
func NewSubprocess(cfg Config, logger log.Logger) *Subprocess {
	return &Subprocess{
		command:    cfg.Command,
		args:       splitList(cfg.Args),
		maxResults: cfg.MaxResults,
		credEnv:    splitList(cfg.CredEnv),
		logger:     logger,
	}
}

// Search runs the provider command for the query and parses its JSON output.
// The context bounds the subprocess; hitting the deadline maps to
// monitor.ErrSearchTimeout and any other command failure to
// monitor.ErrSearchUnavailable.
func (s *Subprocess) Search(ctx context.Context, query string) ([]monitor.RawResult, error) {
	args := make([]string, 0, len(s.args)+3)
	args = append(args, s.args...)
	args = append(args, "--query", sanitizeQuery(query))
	args = append(args, "--max-results", strconv.Itoa(s.maxResults))

	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Env = s.env()

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", monitor.ErrSearchTimeout, s.command)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.logger.Warn(ctx, "search command failed",
				"command", s.command,
				"exit_code", exitErr.ExitCode(),
				"stderr", truncate(string(exitErr.Stderr), 200))
			return nil, fmt.Errorf("%w: %s exited %d", monitor.ErrSearchUnavailable, s.command, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("%w: %v", monitor.ErrSearchUnavailable, err)
	}

	env, err := parseEnvelope(out)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "search completed",
		"provider", env.Provider,
		"results", len(env.Results))
	return env.Results, nil
}

// env builds the sanitized subprocess environment: the base allowlist plus
// configured credential variables, taken from the parent environment.
func (s *Subprocess) env() []string {
	names := make([]string, 0, len(baseEnvAllowlist)+len(s.credEnv))
	names = append(names, baseEnvAllowlist...)
	names = append(names, s.credEnv...)

	env := make([]string, 0, len(names))
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// parseEnvelope extracts the JSON envelope from command output. Providers may
// print status noise before the document, so parsing starts at the first '{'.
func parseEnvelope(out []byte) (*envelope, error) {
	text := strings.TrimSpace(string(out))
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON in search output", monitor.ErrSearchUnavailable)
	}

	var env envelope
	if err := json.Unmarshal([]byte(text[start:]), &env); err != nil {
		return nil, fmt.Errorf("%w: parse search output: %v", monitor.ErrSearchUnavailable, err)
	}
	return &env, nil
}

// sanitizeQuery strips control characters and bounds the query length.
func sanitizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	for _, r := range q {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > maxQueryLen {
		out = out[:maxQueryLen]
	}
	return out
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
