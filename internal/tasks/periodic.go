package tasks

import (
	"context"
	"fmt"
	"time"

	"invoice-automation-backend/internal/services/approval"
	"invoice-automation-backend/internal/services/dispatcher"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReminderRunner is one dispatcher pass over every workspace.
type ReminderRunner interface {
	RunAll(ctx context.Context) (dispatcher.Summary, error)
}

// DraftApprovalRunner is one draft-approval pass.
type DraftApprovalRunner interface {
	Run(ctx context.Context, workspaceID *uuid.UUID, req approval.Request) (approval.Summary, error)
}

// NewScheduler registers the in-process triggers for deployments without
// an external cron. An empty spec leaves that trigger off. Overlapping runs
// are skipped rather than queued.
func NewScheduler(reminderSpec, draftSpec string, reminders ReminderRunner, drafts DraftApprovalRunner, log *zap.Logger) (*cron.Cron, error) {
	log = log.Named("periodic")
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	if reminderSpec != "" {
		if _, err := c.AddFunc(reminderSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			sum, err := reminders.RunAll(ctx)
			if err != nil {
				log.Error("reminder pass failed", zap.Error(err))
				return
			}
			log.Info("reminder pass finished",
				zap.Int("checked", sum.Checked),
				zap.Int("sent", sum.Sent),
				zap.Int("skipped", sum.Skipped),
				zap.Int("errors", sum.Errors),
				zap.Int64("overdue", sum.Overdue),
			)
		}); err != nil {
			return nil, fmt.Errorf("tasks: reminder cron spec %q: %w", reminderSpec, err)
		}
	}

	if draftSpec != "" {
		if _, err := c.AddFunc(draftSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			sum, err := drafts.Run(ctx, nil, approval.Request{})
			if err != nil {
				log.Error("draft approval pass failed", zap.Error(err))
				return
			}
			log.Info("draft approval pass finished",
				zap.Int("checked", sum.Checked),
				zap.Int("sent", sum.Sent),
				zap.Int("skipped", sum.Skipped),
				zap.Int("errors", sum.Errors),
			)
		}); err != nil {
			return nil, fmt.Errorf("tasks: draft approval cron spec %q: %w", draftSpec, err)
		}
	}
	return c, nil
}
