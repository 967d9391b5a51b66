package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/shadowbook/internal/bus"
	"github.com/basket/shadowbook/internal/config"
	"github.com/basket/shadowbook/internal/identity"
	"github.com/basket/shadowbook/internal/offload"
	otelPkg "github.com/basket/shadowbook/internal/otel"
	"github.com/basket/shadowbook/internal/scheduler"
	"github.com/basket/shadowbook/internal/shadow"
	"github.com/basket/shadowbook/internal/source"
	"github.com/basket/shadowbook/internal/syncer"
	"github.com/basket/shadowbook/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SUBCOMMANDS:
  %s sync [-source S]         Full sync of all enabled sources, or one source
  %s import <file.json>       Import contacts from a JSON file
  %s list [-limit N]          List contacts, most recent interaction first
  %s search <query>           Search contacts by name, phone, email, company
  %s status                   Show per-source row counts and last sync times
  %s daemon                   Run the scheduled sync daemon until interrupted

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  SHADOWBOOK_HOME         Data directory (default: ~/.shadowbook)
  SHADOWBOOK_USER         User id to operate on (default: local)
  SHADOWBOOK_DB_KEY       Store encryption key (overrides db_key_file)
  SHADOWBOOK_LOG_LEVEL    debug, info, warn, error

EXAMPLES:
  Sync everything:        %s sync
  Sync one source:        %s sync -source mailbox
  Import contacts:        %s import contacts.json
  Recent contacts:        %s list -limit 20
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
	case "sync":
		os.Exit(runSyncCommand(ctx, args[1:]))
	case "import":
		os.Exit(runImportCommand(ctx, args[1:]))
	case "list":
		os.Exit(runListCommand(ctx, args[1:]))
	case "search":
		os.Exit(runSearchCommand(ctx, args[1:]))
	case "status":
		os.Exit(runStatusCommand(ctx, args[1:]))
	case "daemon":
		os.Exit(runDaemon(ctx))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

// app wires the store, adapters, resolver, syncer, and query pool together
// for one command invocation.
type app struct {
	cfg        config.Config
	precedence []identity.Source
	logger     *slog.Logger
	logCloser  io.Closer
	eventBus   *bus.Bus
	otel       *otelPkg.Provider
	metrics    *otelPkg.Metrics
	store      *shadow.Store
	registry   *source.Registry
	svc        *syncer.Service
	pool       *offload.Pool
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	// Quiet logs (file-only) for interactive commands so output stays clean.
	quiet := isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, logCloser: closer, eventBus: bus.New()}

	a.otel, err = otelPkg.Init(ctx, cfg.Otel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("otel init: %w", err)
	}
	a.metrics, err = otelPkg.NewMetrics(a.otel.Meter())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("metrics init: %w", err)
	}

	key, err := cfg.DBKey()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = shadow.Open(cfg.DBPath, key, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("store open: %w", err)
	}

	a.registry = source.NewRegistry()
	for src, fc := range cfg.SourceFiles() {
		if err := a.registry.Register(source.NewFileAdapter(src, fc.Path)); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.precedence, err = cfg.Precedence()
	if err != nil {
		a.Close()
		return nil, err
	}
	resolver := identity.NewResolver(a.precedence, logger)
	a.svc = syncer.New(a.store, a.registry, resolver, a.eventBus, a.metrics, logger)
	a.pool = offload.New(cfg.DBPath, key, a.store, a.eventBus, a.metrics, logger)
	return a, nil
}

func (a *app) Close() {
	if a.pool != nil {
		_ = a.pool.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.otel != nil {
		_ = a.otel.Shutdown(context.Background())
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// queryCtx applies the configured read timeout.
func (a *app) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(a.cfg.QueryTimeoutSeconds)*time.Second)
}

func runDaemon(ctx context.Context) int {
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()

	if err := a.pool.Start(ctx); err != nil {
		// Not fatal: reads fall back inline until the pool reinitializes.
		a.logger.Warn("query pool start failed", "error", err)
	}

	runSync := func(jobCtx context.Context) {
		sctx, span := otelPkg.StartSpan(jobCtx, a.otel.Tracer(), "sync.all",
			otelPkg.AttrUserID.String(a.cfg.UserID))
		defer span.End()
		if _, err := a.svc.SyncAll(sctx, a.cfg.UserID, a.precedence); err != nil {
			a.logger.Error("scheduled sync failed", "error", err)
		}
	}

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Schedule: a.cfg.Sync.Schedule,
		Job:      runSync,
		Logger:   a.logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid sync schedule %q: %v\n", a.cfg.Sync.Schedule, err)
		return 1
	}
	sched.Start(ctx)
	defer sched.Stop()

	var watchFiles []string
	for _, fc := range a.cfg.SourceFiles() {
		watchFiles = append(watchFiles, fc.Path)
	}
	watcher := config.NewWatcher(a.cfg.HomeDir, watchFiles, a.logger)
	if err := watcher.Start(ctx); err != nil {
		a.logger.Warn("file watcher unavailable", "error", err)
	}

	a.logger.Info("daemon started", "schedule", a.cfg.Sync.Schedule, "user", a.cfg.UserID)
	runSync(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("daemon shutting down")
			return 0
		case ev, ok := <-watcher.Events():
			if !ok {
				<-ctx.Done()
				return 0
			}
			// A changed source export means fresh data: sync right away.
			// A changed config.yaml needs a restart to take effect.
			if strings.HasSuffix(ev.Path, "config.yaml") {
				a.logger.Warn("config.yaml changed, restart to apply")
				continue
			}
			a.logger.Info("source export changed, syncing", "path", ev.Path)
			runSync(ctx)
		}
	}
}
