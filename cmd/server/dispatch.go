package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"invoice-automation-backend/internal/app"
	"invoice-automation-backend/internal/services/approval"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	dispatchWorkspace string
	dispatchDrafts    bool
	dispatchForceAll  bool
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run one reminder pass (or draft-approval pass) and print the summary",
	Long: `Run a single pass and exit, for use from an external cron.

Examples:
  invoice-server dispatch
  invoice-server dispatch --workspace 6f1c...
  invoice-server dispatch --drafts --force-all`,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchWorkspace, "workspace", "", "limit the pass to one workspace ID")
	dispatchCmd.Flags().BoolVar(&dispatchDrafts, "drafts", false, "run the draft-approval pass instead of reminders")
	dispatchCmd.Flags().BoolVar(&dispatchForceAll, "force-all", false, "draft approvals: notify every draft regardless of offset")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	var wsID *uuid.UUID
	if dispatchWorkspace != "" {
		id, err := uuid.Parse(dispatchWorkspace)
		if err != nil {
			return fmt.Errorf("invalid --workspace: %w", err)
		}
		wsID = &id
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()
	svc := app.NewServices(db, cfg, app.NewSender(cfg, log), log)

	var summary any
	switch {
	case dispatchDrafts:
		summary, err = svc.Notifier.Run(ctx, wsID, approval.Request{ForceAll: dispatchForceAll})
	case wsID != nil:
		summary, err = svc.Dispatcher.Run(ctx, *wsID)
	default:
		summary, err = svc.Dispatcher.RunAll(ctx)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
