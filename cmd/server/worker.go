package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"invoice-automation-backend/internal/app"
	"invoice-automation-backend/internal/services/extraction"
	"invoice-automation-backend/internal/tasks"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var withCron bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background extraction worker",
	Long: `Drain the invoice extraction queue.

With --cron the worker also runs the reminder and draft-approval passes on
REMINDER_CRON_SPEC and DRAFT_APPROVAL_CRON_SPEC, for deployments without
an external scheduler.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&withCron, "cron", false, "also run the periodic passes in-process")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required to run the extraction worker")
	}
	extractor, err := extraction.NewGeminiExtractor(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return err
	}
	defer extractor.Close()

	svc := app.NewServices(db, cfg, app.NewSender(cfg, log), log)
	repos := svc.Repos
	proc := extraction.NewProcessor(repos.Imports, repos.Workspaces, repos.Clients, svc.Billing,
		extractor, nil, svc.Audit, log)

	if withCron {
		c, err := tasks.NewScheduler(cfg.ReminderCronSpec, cfg.DraftApprovalCronSpec, svc.Dispatcher, svc.Notifier, log)
		if err != nil {
			return err
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		log.Info("periodic passes enabled",
			zap.String("reminders", cfg.ReminderCronSpec),
			zap.String("draft_approvals", cfg.DraftApprovalCronSpec),
		)
	}

	opt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisQueueDB,
	}
	srv := tasks.NewServer(opt, cfg.WorkerConcurrency, log)
	if err := srv.Start(tasks.NewMux(proc, log)); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	log.Info("extraction worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	<-ctx.Done()
	log.Info("shutting down worker")
	srv.Shutdown()
	return nil
}
