package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Config adds app-level configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	TopicsFile        string
	StateDir          string
	DatabaseURL       string
	Concurrency       int
	TopicTimeout      time.Duration
	Interval          time.Duration
	DryRun            bool
	Force             bool
	Topic             string
	TelegramBotToken  string
	TelegramChatID    string
	DiscordWebhookURL string
	SlackWebhookURL   string
	SpoolFile         string
	DrainSpool        bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.TopicsFile, "topics-file", "topics.yaml", "path to the topics YAML file")
	fs.StringVar(&c.StateDir, "state-dir", "state", "directory for per-topic state files (ignored with -database-url)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = file-backed store)")
	fs.IntVar(&c.Concurrency, "concurrency", 4, "maximum topics checked in parallel (1..64)")
	fs.DurationVar(&c.TopicTimeout, "topic-timeout", 60*time.Second, "per-topic deadline covering search and evaluation")
	fs.DurationVar(&c.Interval, "interval", 0, "run a cycle every interval; 0 = run once and exit")
	fs.BoolVar(&c.DryRun, "dry-run", false, "evaluate and log decisions without delivering or persisting")
	fs.BoolVar(&c.Force, "force", false, "check all topics regardless of frequency gating")
	fs.StringVar(&c.Topic, "topic", "", "restrict the cycle to a single topic id")
	fs.StringVar(&c.TelegramBotToken, "telegram-bot-token", "", "Telegram bot token (empty disables the telegram sink)")
	fs.StringVar(&c.TelegramChatID, "telegram-chat-id", "", "Telegram chat id alerts are sent to")
	fs.StringVar(&c.DiscordWebhookURL, "discord-webhook-url", "", "Discord webhook URL (empty disables the discord sink)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack incoming webhook URL (empty disables the slack sink)")
	fs.StringVar(&c.SpoolFile, "spool-file", "", "alert spool file path (empty disables the spool sink)")
	fs.BoolVar(&c.DrainSpool, "drain-spool", false, "print pending spool entries as JSON lines, mark them sent, and exit")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	if c.TopicsFile == "" {
		errs = append(errs, errors.New("TOPICS_FILE is required"))
	}

	// Exactly one store backend is active; the file store needs a directory.
	if c.DatabaseURL == "" && c.StateDir == "" {
		errs = append(errs, errors.New("STATE_DIR is required without DATABASE_URL"))
	}

	if c.Concurrency <= 0 || c.Concurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid CONCURRENCY %d (must be 1..64)", c.Concurrency))
	}
	if c.TopicTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid TOPIC_TIMEOUT %s (must be positive)", c.TopicTimeout))
	}
	if c.Interval < 0 {
		errs = append(errs, fmt.Errorf("invalid INTERVAL %s (must not be negative)", c.Interval))
	}

	if c.DrainSpool && c.SpoolFile == "" {
		errs = append(errs, errors.New("SPOOL_FILE is required with DRAIN_SPOOL"))
	}

	// The telegram sink needs both halves of its address.
	if c.TelegramBotToken != "" && c.TelegramChatID == "" {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required with TELEGRAM_BOT_TOKEN"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
