// Package main is the entrypoint for the commrelay worker daemon.
//
// Startup:
//  1. Load and validate configuration (fail fast).
//  2. Initialize the JSON logger.
//  3. Connect the pgx pool and run pending migrations.
//  4. Build transports: Postmark email (stubbed in local), WhatsApp per mode.
//  5. Wire repositories, guards, and the task processor.
//  6. Start the timer loops (dispatch, watcher, campaign, maintenance), the
//     WhatsApp session manager when in session mode, and the ops HTTP server
//     under one errgroup.
//
// SIGINT/SIGTERM cancels the root context; every loop finishes its current
// tick and the ops server drains before the process exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"commrelay/internal/config"
	"commrelay/internal/db"
	"commrelay/internal/external"
	"commrelay/internal/ops"
	"commrelay/internal/queue"
	"commrelay/internal/render"
	"commrelay/internal/scheduler"
	"commrelay/internal/tasks"
	"commrelay/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "commrelay worker failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		return err
	}

	renderer, err := render.NewRenderer(cfg.Templates.Dir)
	if err != nil {
		return err
	}

	taskRepo := db.NewTaskRepository(pool)
	templateRepo := db.NewTemplateRepository(pool)
	invoiceRepo := db.NewInvoiceRepository(pool)
	campaignRepo := db.NewCampaignRepository(pool)

	emailSender := newEmailSender(cfg, logger)
	whatsappSender, sessionMgr := newWhatsAppSender(cfg, logger)

	guards := tasks.GuardRegistry{
		types.TopicPayment: tasks.NewPaymentGuard(invoiceRepo, cfg.Watcher.PaidStatuses),
		types.TopicEvent:   tasks.NewEventGuard(nil),
	}
	processor := tasks.NewProcessor(
		taskRepo,
		templateRepo,
		renderer,
		emailSender,
		whatsappSender,
		guards,
		invoiceRepo,
		campaignRepo,
		cfg.Watcher.PaidStatuses,
		logger.With("component", "processor"),
	)

	dispatcher := scheduler.NewDispatcher(
		db.NewTaskPicker(pool),
		processor,
		cfg.Dispatch,
		logger.With("component", "dispatcher"),
	)
	watcher := scheduler.NewWatcher(pool, cfg.Watcher, cfg.Support, logger.With("component", "watcher"))
	archiver := scheduler.NewArchiver(taskRepo, cfg.Maintenance, logger.With("component", "archiver"))

	probes := []ops.Probe{
		ops.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
	}
	if sessionMgr != nil {
		probes = append(probes, ops.ProbeFunc{ProbeName: "whatsapp", Fn: func(ctx context.Context) error {
			if !sessionMgr.Ready() {
				return types.NewAppError(types.ErrCodeUpstreamWhatsApp, "session not connected", nil)
			}
			return nil
		}})
	}
	opsServer := ops.NewServer(cfg.Ops.Port, probes, logger.With("component", "ops"))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.RunEvery(ctx, "dispatch", cfg.Dispatch.Interval, logger, func(ctx context.Context) error {
			_, err := dispatcher.Tick(ctx)
			return err
		})
	})
	g.Go(func() error {
		return scheduler.RunEvery(ctx, "watcher", cfg.Watcher.Interval, logger, watcher.Tick)
	})
	g.Go(func() error {
		return scheduler.RunEvery(ctx, "maintenance", cfg.Maintenance.Interval, logger, func(ctx context.Context) error {
			_, err := archiver.Tick(ctx)
			return err
		})
	})

	if cfg.Campaign.FanoutQueueURL != "" {
		sqsClient, err := queue.NewSQSClient(ctx, cfg.Campaign)
		if err != nil {
			return err
		}
		publisher := queue.NewFanoutPublisher(sqsClient, cfg.Campaign.FanoutQueueURL, logger)
		campaigns := scheduler.NewCampaignTicker(pool, publisher, cfg.Campaign, logger.With("component", "campaign"))
		g.Go(func() error {
			return scheduler.RunEvery(ctx, "campaign", cfg.Campaign.Interval, logger, func(ctx context.Context) error {
				_, err := campaigns.Tick(ctx)
				return err
			})
		})
	} else {
		logger.Info("campaign fanout disabled, no queue url configured")
	}

	if sessionMgr != nil {
		g.Go(func() error { return sessionMgr.Run(ctx) })
	}
	g.Go(func() error { return opsServer.Run(ctx) })

	logger.Info("commrelay worker started",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"whatsapp_mode", cfg.WhatsApp.Mode,
		"ops_port", cfg.Ops.Port,
	)

	return g.Wait()
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", cfg.Service)
}

// newEmailSender returns the Postmark transport, or the logging stub in the
// local environment.
func newEmailSender(cfg *config.Config, logger *slog.Logger) tasks.EmailSender {
	if cfg.Environment == "local" {
		return &external.StubEmailSender{Logger: logger}
	}
	return external.NewPostmarkSender(cfg.Email, logger)
}

// newWhatsAppSender returns the transport for the configured mode. In session
// mode it also returns the session manager so the caller can run its
// reconnect loop and expose its readiness.
func newWhatsAppSender(cfg *config.Config, logger *slog.Logger) (tasks.WhatsAppSender, *external.SessionManager) {
	switch cfg.WhatsApp.Mode {
	case "cloud":
		return external.NewCloudWhatsAppClient(cfg.WhatsApp, logger), nil
	case "session":
		session := external.NewBridgeSession(cfg.WhatsApp, logger)
		mgr := external.NewSessionManager(session, cfg.WhatsApp, logger)
		return mgr, mgr
	default:
		return &external.StubWhatsAppSender{Logger: logger}, nil
	}
}
