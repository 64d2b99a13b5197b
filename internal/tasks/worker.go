package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"invoice-automation-backend/internal/services/extraction"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// ImportProcessor runs one extraction attempt.
type ImportProcessor interface {
	Process(ctx context.Context, importID uuid.UUID, lastAttempt bool) error
}

// NewServer builds the asynq server that drains the extraction queue.
func NewServer(opt asynq.RedisClientOpt, concurrency int, log *zap.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
		Logger:   log.Named("asynq").Sugar(),
		LogLevel: asynq.WarnLevel,
	})
}

func NewMux(proc ImportProcessor, log *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeExtractInvoice, HandleExtraction(proc, log))
	return mux
}

func HandleExtraction(proc ImportProcessor, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p ExtractionPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			log.Error("invalid extraction payload", zap.Error(err))
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}

		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		last := retried >= maxRetry

		err := proc.Process(ctx, p.ImportID, last)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, extraction.ErrPermanent):
			log.Warn("extraction failed permanently", zap.String("import_id", p.ImportID.String()), zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		default:
			log.Warn("extraction attempt failed",
				zap.String("import_id", p.ImportID.String()),
				zap.Int("retried", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
			return err
		}
	}
}
