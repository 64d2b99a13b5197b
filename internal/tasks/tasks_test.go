package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"invoice-automation-backend/internal/services/approval"
	"invoice-automation-backend/internal/services/dispatcher"
	"invoice-automation-backend/internal/services/extraction"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProcessor struct {
	err  error
	got  []uuid.UUID
	last []bool
}

func (f *fakeProcessor) Process(_ context.Context, id uuid.UUID, last bool) error {
	f.got = append(f.got, id)
	f.last = append(f.last, last)
	return f.err
}

func TestNewExtractionTask(t *testing.T) {
	id := uuid.New()
	task, err := NewExtractionTask(id, 5)
	require.NoError(t, err)

	assert.Equal(t, TypeExtractInvoice, task.Type())
	var p ExtractionPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, id, p.ImportID)
}

func TestHandleExtraction(t *testing.T) {
	id := uuid.New()
	task, err := NewExtractionTask(id, 3)
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		proc := &fakeProcessor{}
		require.NoError(t, HandleExtraction(proc, zap.NewNop())(context.Background(), task))
		assert.Equal(t, []uuid.UUID{id}, proc.got)
	})

	t.Run("permanent failure skips retry", func(t *testing.T) {
		proc := &fakeProcessor{err: fmt.Errorf("%w: unreadable", extraction.ErrPermanent)}
		err := HandleExtraction(proc, zap.NewNop())(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		proc := &fakeProcessor{err: errors.New("model timeout")}
		err := HandleExtraction(proc, zap.NewNop())(context.Background(), task)
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("bad payload", func(t *testing.T) {
		proc := &fakeProcessor{}
		err := HandleExtraction(proc, zap.NewNop())(context.Background(), asynq.NewTask(TypeExtractInvoice, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.Empty(t, proc.got)
	})
}

type nopReminders struct{}

func (nopReminders) RunAll(context.Context) (dispatcher.Summary, error) {
	return dispatcher.Summary{}, nil
}

type nopDrafts struct{}

func (nopDrafts) Run(context.Context, *uuid.UUID, approval.Request) (approval.Summary, error) {
	return approval.Summary{}, nil
}

func TestNewScheduler(t *testing.T) {
	c, err := NewScheduler("*/5 * * * *", "0 8 * * *", nopReminders{}, nopDrafts{}, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)

	c, err = NewScheduler("", "", nopReminders{}, nopDrafts{}, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, c.Entries())

	_, err = NewScheduler("every tuesday", "", nopReminders{}, nopDrafts{}, zap.NewNop())
	assert.Error(t, err)
}
