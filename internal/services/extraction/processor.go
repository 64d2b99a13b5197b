// Package extraction turns chat import requests into draft invoices in the
// background: read the text, extract invoice fields, resolve the client,
// create the draft.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"
	"invoice-automation-backend/internal/services/billing"
	"invoice-automation-backend/internal/services/matching"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPermanent wraps failures a retry cannot fix.
var ErrPermanent = errors.New("permanent import failure")

// AttemptTimeout bounds one extraction attempt. A record left PROCESSING
// for longer is treated as abandoned and can be claimed again.
const AttemptTimeout = 2 * time.Minute

// ThreadSource fetches the messages of a chat thread as plain text.
type ThreadSource interface {
	ThreadText(ctx context.Context, channelRef, threadRef string) (string, error)
}

type Processor struct {
	imports    repository.ImportRepository
	workspaces repository.WorkspaceRepository
	clients    repository.ClientRepository
	billing    *billing.Service
	extractor  Extractor
	threads    ThreadSource
	audit      audit.Sink
	log        *zap.Logger
	now        func() time.Time
}

func NewProcessor(
	imports repository.ImportRepository,
	workspaces repository.WorkspaceRepository,
	clients repository.ClientRepository,
	billingSvc *billing.Service,
	extractor Extractor,
	threads ThreadSource,
	sink audit.Sink,
	log *zap.Logger,
) *Processor {
	return &Processor{
		imports:    imports,
		workspaces: workspaces,
		clients:    clients,
		billing:    billingSvc,
		extractor:  extractor,
		threads:    threads,
		audit:      sink,
		log:        log.Named("extraction"),
		now:        time.Now,
	}
}

func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process runs one attempt for the record. lastAttempt turns a transient
// failure into a terminal one. A finished record, or one held by a live
// attempt, is left alone. The outcome is written even when ctx has expired.
func (p *Processor) Process(ctx context.Context, recordID uuid.UUID, lastAttempt bool) error {
	claimed, err := p.imports.MarkProcessing(ctx, recordID, p.now(), AttemptTimeout)
	if err != nil {
		return err
	}
	if !claimed {
		p.log.Info("import record not pending, skipping", zap.String("import_id", recordID.String()))
		return nil
	}

	rec, err := p.imports.GetByID(ctx, recordID)
	if err != nil {
		return err
	}

	inv, err := p.run(ctx, rec)
	wctx := context.WithoutCancel(ctx)
	if err != nil {
		terminal := lastAttempt || errors.Is(err, ErrPermanent)
		if ferr := p.imports.Fail(wctx, rec.ID, apperr.UserMessage(err)+detail(err), terminal); ferr != nil {
			p.log.Error("could not record import failure", zap.String("import_id", rec.ID.String()), zap.Error(ferr))
		}
		if terminal {
			p.audit.Record(wctx, audit.Event{
				Actor:       rec.RequestedBy,
				Action:      audit.ActionImportFailed,
				WorkspaceID: rec.WorkspaceID,
				Metadata: map[string]any{
					"import_id": rec.ID.String(),
					"attempts":  rec.Attempts,
					"error":     err.Error(),
				},
			})
		}
		return err
	}

	if err := p.imports.Complete(wctx, rec.ID, inv.ID); err != nil {
		return err
	}
	p.audit.Record(wctx, audit.Event{
		Actor:       rec.RequestedBy,
		Action:      audit.ActionImportCompleted,
		WorkspaceID: rec.WorkspaceID,
		InvoiceID:   inv.ID,
		Metadata: map[string]any{
			"import_id":      rec.ID.String(),
			"invoice_number": inv.InvoiceNumber,
		},
	})
	return nil
}

func detail(err error) string {
	if apperr.KindOf(err) == apperr.KindInfrastructure {
		return ": " + err.Error()
	}
	return ""
}

func (p *Processor) run(ctx context.Context, rec *models.ImportRecord) (*models.Invoice, error) {
	ws, err := p.workspaces.GetByID(ctx, rec.WorkspaceID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		return nil, err
	}

	text, err := p.sourceText(ctx, rec)
	if err != nil {
		return nil, err
	}

	ex, err := p.extractor.Extract(ctx, text, p.now().In(ws.Location()))
	if err != nil {
		if errors.Is(err, ErrUnreadable) {
			return nil, fmt.Errorf("%w: %w", ErrPermanent, apperr.Validation(err.Error()))
		}
		return nil, apperr.Infrastructure(err, "extract invoice")
	}

	client, err := p.resolveClient(ctx, ws, ex)
	if err != nil {
		return nil, err
	}

	inv, err := p.billing.CreateDraft(ctx, ws, billing.DraftInput{
		ClientID:      client.ID,
		InvoiceNumber: ex.InvoiceNumber,
		Total:         ex.Total,
		Currency:      ex.Currency,
		DueDate:       ex.DueDate,
		Notes:         ex.Description,
	}, rec.RequestedBy)
	if apperr.Is(err, apperr.KindValidation) {
		return nil, fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	return inv, err
}

func (p *Processor) sourceText(ctx context.Context, rec *models.ImportRecord) (string, error) {
	if rec.Source != models.ImportFromThread {
		if rec.RawText == "" {
			return "", fmt.Errorf("%w: %w", ErrPermanent, apperr.Validation("the request had no text to read"))
		}
		return rec.RawText, nil
	}

	if p.threads == nil {
		if rec.RawText != "" {
			return rec.RawText, nil
		}
		return "", fmt.Errorf("%w: %w", ErrPermanent, apperr.Validation("thread history is not available"))
	}
	text, err := p.threads.ThreadText(ctx, rec.ChannelRef, rec.ThreadRef)
	if err != nil {
		return "", apperr.Infrastructure(err, "read thread")
	}
	if rec.RawText != "" {
		text += "\n" + rec.RawText
	}
	return text, nil
}

// resolveClient reuses a confidently matched client and otherwise creates
// one from the extracted details.
func (p *Processor) resolveClient(ctx context.Context, ws *models.Workspace, ex *Extraction) (*models.Client, error) {
	existing, err := p.clients.ListByWorkspace(ctx, ws.ID)
	if err != nil {
		return nil, err
	}

	match := matching.MatchClient(ex.CustomerName, ex.CustomerEmail, existing)
	p.log.Debug("client match",
		zap.String("customer", ex.CustomerName),
		zap.String("decision", string(match.Decision)),
		zap.Float64("score", match.Score),
		zap.Int("candidates", match.Candidates),
	)
	if match.Decision == matching.DecisionMatched {
		return match.Client, nil
	}

	c := &models.Client{
		WorkspaceID: ws.ID,
		Name:        ex.CustomerName,
		Email:       ex.CustomerEmail,
	}
	if err := p.clients.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
