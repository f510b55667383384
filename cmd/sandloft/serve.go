package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sandloft/sandloft/internal/config"
	"github.com/sandloft/sandloft/internal/github"
	"github.com/sandloft/sandloft/internal/logs"
	"github.com/sandloft/sandloft/internal/notify"
	"github.com/sandloft/sandloft/internal/orchestrator"
	"github.com/sandloft/sandloft/internal/platform"
	"github.com/sandloft/sandloft/internal/server"
	"github.com/sandloft/sandloft/internal/session"
	"github.com/sandloft/sandloft/internal/snapshot"
	statuspkg "github.com/sandloft/sandloft/internal/status"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandloft server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "sandloft",
	})

	store, err := session.NewStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runtimes, err := config.LoadRuntimes(cfg.RuntimesPath)
	if err != nil {
		return err
	}

	pf := platform.NewClient(cfg.PlatformURL, cfg.PlatformToken,
		platform.WithCallTimeout(cfg.PlatformCallTimeout))

	bus := logs.NewBus()
	pipeline := logs.NewPipeline(store, pf, bus, logger)
	snaps := snapshot.NewCoordinator(store, pf)

	var gh *github.Client
	if cfg.GitHubToken != "" {
		gh = github.NewClient(cfg.GitHubToken)
	} else {
		logger.Info("PR tracking disabled (no GITHUB_TOKEN)")
	}

	var notifiers []notify.Notifier
	if cfg.SlackEnabled() {
		notifiers = append(notifiers, notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel))
		logger.Info("Slack notifications enabled", "channel", cfg.SlackChannel)
	}
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			logger.Warn("telegram notifier disabled", "err", err)
		} else {
			notifiers = append(notifiers, tg)
			logger.Info("Telegram notifications enabled")
		}
	}

	orch := orchestrator.New(
		orchestrator.Options{
			Runtimes:       runtimes,
			DefaultRuntime: cfg.DefaultRuntime,
			SandboxTimeout: cfg.SandboxTimeout,
			SandboxEnv:     cfg.SandboxEnv(),
		},
		store, pf, snaps, pipeline, gh, notifiers, logger,
	)

	srv := server.New(orch, snaps, bus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx, cfg.ServerAddr)
	})
	if cfg.SweepInterval > 0 {
		g.Go(func() error {
			sweep(ctx, orch, logger, cfg.SweepInterval)
			return nil
		})
	}
	return g.Wait()
}

// sweep periodically reconciles non-terminal sessions so stored status does
// not depend on caller polling. The core reconciles on-demand; this loop is
// a deployment concern layered on top.
func sweep(ctx context.Context, orch *orchestrator.Orchestrator, logger *log.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions, err := orch.ListSessions(true)
			if err != nil {
				logger.Warn("sweep: listing sessions", "err", err)
				continue
			}
			for _, sess := range sessions {
				if statuspkg.IsTerminal(sess.Status) {
					continue
				}
				if _, err := orch.GetStatus(ctx, sess.ID); err != nil {
					logger.Warn("sweep: reconciling session", "session", sess.ID, "err", err)
				}
			}
		}
	}
}
