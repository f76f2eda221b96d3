// Scout monitors configured topics through an external search provider and
// routes important new findings to alert sinks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	sc "github.com/linnemanlabs/scout/internal/cfg"
	"github.com/linnemanlabs/scout/internal/monitor"
	"github.com/linnemanlabs/scout/internal/monitor/filestore"
	"github.com/linnemanlabs/scout/internal/monitor/pgstore"
	"github.com/linnemanlabs/scout/internal/notify/discord"
	"github.com/linnemanlabs/scout/internal/notify/slack"
	"github.com/linnemanlabs/scout/internal/notify/spool"
	"github.com/linnemanlabs/scout/internal/notify/telegram"
	"github.com/linnemanlabs/scout/internal/postgres"
	"github.com/linnemanlabs/scout/internal/search"
	"github.com/linnemanlabs/scout/internal/topic"
)

const appName = "scout"
const component = "monitor"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error { //nolint:gocognit // linear wiring sequence, not worth splitting
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    sc.Config
		searchCfg search.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	searchCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix SCOUT_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "SCOUT_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	validationErrs := []error{
		appCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		traceCfg.Validate(),
	}
	// Drain mode never invokes the search provider, so its config may be empty.
	if !appCfg.DrainSpool {
		validationErrs = append(validationErrs, searchCfg.Validate())
	}
	if err := errors.Join(validationErrs...); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	// Drain mode: hand pending spooled alerts to the caller and exit without
	// running a cycle.
	if appCfg.DrainSpool {
		return drainSpool(ctx, L, appCfg.SpoolFile, os.Stdout)
	}

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"topics_file", appCfg.TopicsFile,
		"state_dir", appCfg.StateDir,
		"interval", appCfg.Interval,
		"concurrency", appCfg.Concurrency,
		"dry_run", appCfg.DryRun,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
	)

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)

	// Load and validate topics before touching any state. Invalid config is
	// fatal before the first cycle.
	topicsFile, err := topic.Load(appCfg.TopicsFile)
	if err != nil {
		return err
	}
	if err := topicsFile.Validate(); err != nil {
		return err
	}
	if appCfg.Topic != "" {
		if _, ok := topicsFile.ByID(appCfg.Topic); !ok {
			return fmt.Errorf("unknown topic id %q", appCfg.Topic)
		}
	}
	L.Info(ctx, "topics loaded", "count", len(topicsFile.Topics))

	// Initialize the dedup store
	var store monitor.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		store = pgStore
		L.Info(ctx, "using postgres store")

		// Register per-query DB duration histogram and wire the observer.
		dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scout_db_query_duration_seconds",
			Help:    "Duration of individual database queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic", "outcome"})
		m.Registry().MustRegister(dbQueryDuration)

		postgres.SetQueryObserver(postgres.QueryObserverFunc(
			func(_ context.Context, topicID, outcome string, dur time.Duration) {
				dbQueryDuration.WithLabelValues(topicID, outcome).Observe(dur.Seconds())
			},
		))
	} else {
		fileStore, err := filestore.New(appCfg.StateDir)
		if err != nil {
			return fmt.Errorf("filestore init: %w", err)
		}
		store = fileStore
		L.Info(ctx, "using file store", "state_dir", appCfg.StateDir)
	}

	// Initialize the search collaborator.
	searcher := search.NewSubprocess(searchCfg, L)
	L.Info(ctx, "search provider configured", "command", searchCfg.Command)

	// Initialize alert sinks. A sink absent here is "unregistered": topics
	// referencing it still validate, deliveries to it are counted and skipped.
	sinks := make(map[string]monitor.Sink)
	if appCfg.TelegramBotToken != "" {
		tg := telegram.New(appCfg.TelegramBotToken, appCfg.TelegramChatID)
		sinks[tg.Name()] = tg
		L.Info(ctx, "sink enabled", "sink", tg.Name())
	}
	if appCfg.DiscordWebhookURL != "" {
		dc := discord.New(appCfg.DiscordWebhookURL)
		sinks[dc.Name()] = dc
		L.Info(ctx, "sink enabled", "sink", dc.Name())
	}
	if appCfg.SlackWebhookURL != "" {
		sl := slack.New(appCfg.SlackWebhookURL)
		sinks[sl.Name()] = sl
		L.Info(ctx, "sink enabled", "sink", sl.Name())
	}
	if appCfg.SpoolFile != "" {
		sp := spool.New(appCfg.SpoolFile)
		sinks[sp.Name()] = sp
		L.Info(ctx, "sink enabled", "sink", sp.Name(), "path", appCfg.SpoolFile)
	}

	// Initialize monitor metrics on the shared Prometheus registry.
	monitorMetrics := monitor.NewMetrics(m.Registry())

	svc, err := monitor.NewService(topicsFile, store, searcher, sinks, L, monitorMetrics, monitor.Options{
		Concurrency:  appCfg.Concurrency,
		TopicTimeout: appCfg.TopicTimeout,
		DryRun:       appCfg.DryRun,
		Force:        appCfg.Force,
		Only:         appCfg.Topic,
	})
	if err != nil {
		return fmt.Errorf("monitor service init: %w", err)
	}

	// runCycle drives one cycle with per-cycle DB statistics attached when the
	// postgres store is active; the query tracer accumulates into them.
	runCycle := func(ctx context.Context) (*monitor.CycleReport, error) {
		if appCfg.DatabaseURL != "" {
			ctx = postgres.NewCycleDBStatsContext(ctx)
		}
		report, err := svc.RunCycle(ctx)
		if stats, ok := postgres.CycleDBStatsFromContext(ctx); ok {
			L.Info(ctx, "cycle db stats",
				"db_queries", stats.QueryCount,
				"db_errors", stats.ErrorCount,
				"db_time", stats.TotalDuration.Seconds(),
			)
		}
		return report, err
	}

	// One-shot mode: run a single cycle and exit with its flush status.
	if appCfg.Interval == 0 {
		report, err := runCycle(ctx)
		if err != nil {
			return err
		}
		L.Info(ctx, "run complete",
			"topics_checked", report.TopicsChecked,
			"alerts_emitted", report.AlertsEmitted,
		)
		return nil
	}

	// Interval mode: expose metrics/health on the admin listener and run
	// cycles until a shutdown signal.
	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	ticker := time.NewTicker(appCfg.Interval)
	defer ticker.Stop()

	runOnce := func() {
		report, err := runCycle(ctx)
		if err != nil {
			L.Error(ctx, err, "cycle failed")
			return
		}
		L.Info(ctx, "cycle report",
			"topics_checked", report.TopicsChecked,
			"topics_skipped", report.TopicsSkipped,
			"alerts_emitted", report.AlertsEmitted,
		)
	}

	runOnce()
	for {
		select {
		case <-ticker.C:
			runOnce()
		case <-ctx.Done():
			L.Info(context.Background(), "shutdown signal received")
			shutdownGate.Set("draining")
			return nil
		}
	}
}

// drainSpool writes every pending spool entry to w as one JSON object per
// line, marks each as sent, and prunes entries past the retention age. The
// output order matches the queue order.
func drainSpool(ctx context.Context, L log.Logger, path string, w io.Writer) error {
	sp := spool.New(path)

	pending, err := sp.Pending()
	if err != nil {
		return fmt.Errorf("read spool: %w", err)
	}

	enc := json.NewEncoder(w)
	now := time.Now()
	for _, e := range pending {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode spool entry %s: %w", e.ID, err)
		}
		if err := sp.MarkSent(e.ID, now); err != nil {
			return fmt.Errorf("mark spool entry %s sent: %w", e.ID, err)
		}
	}

	if err := sp.ClearOld(now, 0); err != nil {
		return fmt.Errorf("prune spool: %w", err)
	}

	L.Info(ctx, "spool drained", "path", path, "entries", len(pending))
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
