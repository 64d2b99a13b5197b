// Package tasks holds the asynq task definitions, the enqueueing client and
// the background worker that runs them.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"invoice-automation-backend/internal/services/extraction"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TypeExtractInvoice = "invoice:extract"

type ExtractionPayload struct {
	ImportID uuid.UUID `json:"import_id"`
}

func NewExtractionTask(importID uuid.UUID, maxRetry int) (*asynq.Task, error) {
	b, err := json.Marshal(ExtractionPayload{ImportID: importID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeExtractInvoice, b,
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(extraction.AttemptTimeout),
		asynq.TaskID("extract:"+importID.String()),
	), nil
}

// Queue enqueues background work onto Redis.
type Queue struct {
	client   *asynq.Client
	maxRetry int
}

func NewQueue(opt asynq.RedisClientOpt, maxRetry int) *Queue {
	return &Queue{client: asynq.NewClient(opt), maxRetry: maxRetry}
}

func (q *Queue) EnqueueExtraction(ctx context.Context, importID uuid.UUID) error {
	task, err := NewExtractionTask(importID, q.maxRetry)
	if err != nil {
		return fmt.Errorf("tasks: build extraction task: %w", err)
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("tasks: enqueue extraction %s: %w", importID, err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
