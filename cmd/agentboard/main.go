// Command agentboard runs the Agentboard dashboard server: it manages a
// tmux session of agent windows, polls agent conversation logs, matches
// them to windows, and serves the result to browser clients over a single
// websocket (§2).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/tbharthur/agentboard/internal/apperr"
	"github.com/tbharthur/agentboard/internal/broker"
	"github.com/tbharthur/agentboard/internal/config"
	"github.com/tbharthur/agentboard/internal/logging"
	"github.com/tbharthur/agentboard/internal/matcher"
	"github.com/tbharthur/agentboard/internal/pollworker"
	"github.com/tbharthur/agentboard/internal/preflight"
	"github.com/tbharthur/agentboard/internal/refreshworker"
	"github.com/tbharthur/agentboard/internal/registry"
	"github.com/tbharthur/agentboard/internal/status"
	"github.com/tbharthur/agentboard/internal/store"
	"github.com/tbharthur/agentboard/internal/tmux"
	"github.com/tbharthur/agentboard/pkg/executil"
	"github.com/tbharthur/agentboard/pkg/logutils"
)

// Build information, populated at build time via -ldflags.
var (
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}
	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

func main() {
	var logLevelFlag, logFileFlag string

	app := &cli.Command{
		Name:    "agentboard",
		Usage:   "multi-session terminal dashboard server for AI coding agents",
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal)",
				Sources:     cli.EnvVars("LOG_LEVEL"),
				Destination: &logLevelFlag,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (stdout if empty)",
				Sources:     cli.EnvVars("LOG_FILE"),
				Destination: &logFileFlag,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, logLevelFlag, logFileFlag)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		zlog.Error().Err(err).Msg("agentboard exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, logLevelFlag, logFileFlag string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if logFileFlag != "" {
		cfg.LogFile = logFileFlag
	}

	logger, closeLogger, err := logutils.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	defer closeLogger()
	zlog.Logger = logger.Hook(logging.ContextHook{})

	log := logging.Component("main")
	log.Info().Str("version", build()).Msg("starting agentboard")

	lock, err := preflight.AcquireLock(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	for _, result := range preflight.RunAll(ctx, []preflight.Check{
		preflight.TmuxCheck{},
		preflight.RipgrepCheck{},
		preflight.PortCheck{Port: cfg.Port},
	}) {
		for _, item := range result.Items {
			ev := log.Info()
			if item.Status == preflight.StatusWarn {
				ev = log.Warn()
			}
			ev.Str("check", item.Label).Str("status", string(item.Status)).Str("detail", item.Detail).Msg("preflight")
			if item.Status == preflight.StatusFail {
				switch result.Name {
				case "tmux":
					return fmt.Errorf("%w: %s", apperr.ErrTmuxMissing, item.Detail)
				case "port":
					return fmt.Errorf("%w: %s", apperr.ErrPortInUse, item.Detail)
				default:
					return fmt.Errorf("preflight check %q failed: %s", result.Name, item.Detail)
				}
			}
		}
	}

	db, err := store.Open(filepath.Dir(cfg.DBPath), store.DefaultOpenOptions())
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrDatabaseOpen, err)
	}
	defer func() { _ = db.Close() }()
	sessions := store.New(db)

	exec := &executil.RealExecutor{}
	driver := tmux.New(exec, tmux.Config{
		ManagedSessionName: cfg.TmuxSession,
		DiscoverSessions:   cfg.DiscoverPrefixes,
	})
	if err := driver.EnsureSession(ctx); err != nil {
		return err
	}

	reg := registry.New()
	tracker := status.NewTracker()

	refresh := refreshworker.New(driver, reg, tracker, sessions, refreshworker.Config{
		Interval:            cfg.RefreshInterval,
		ManagedSessionName:  cfg.TmuxSession,
		ClaudeResumeCmdTmpl: cfg.ClaudeResumeCmd,
		CodexResumeCmdTmpl:  cfg.CodexResumeCmd,
	})

	runCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	poll := pollworker.New(driver, reg, sessions, matcher.New(exec, nil), pollworker.Config{
		Interval: cfg.LogPollInterval,
		OnSessionActivated: func(sessionID, window string) {
			log.Debug().Str("session_id", sessionID).Str("window", window).Msg("session activated, forcing refresh")
			if err := refresh.Tick(runCtx); err != nil {
				log.Warn().Err(err).Msg("forced refresh after session activation failed")
			}
		},
		OnSessionOrphaned: func(sessionID string) {
			log.Debug().Str("session_id", sessionID).Msg("session orphaned, forcing refresh")
			if err := refresh.Tick(runCtx); err != nil {
				log.Warn().Err(err).Msg("forced refresh after session orphan failed")
			}
		},
	})

	go refresh.Run(runCtx)
	go poll.Run(runCtx)

	b := broker.New(reg, sessions, driver, refresh, cfg.TmuxSession)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", b.Healthz)
	mux.HandleFunc("GET /ws", b.ServeWS)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	select {
	case <-sigCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			cancelWorkers()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}
	cancelWorkers()

	log.Info().Msg("agentboard stopped")
	return nil
}
