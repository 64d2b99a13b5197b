// Package commands maps chat slash-command text onto invoice operations.
// Every outcome, including failures, becomes a message for the user.
package commands

import (
	"context"
	"fmt"
	"strings"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"
	"invoice-automation-backend/internal/services/billing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request is a verified inbound command.
type Request struct {
	TeamID    string
	UserID    string
	UserName  string
	ChannelID string
	ThreadRef string
	Text      string
}

// ExtractionQueue hands an import record to the background worker.
type ExtractionQueue interface {
	EnqueueExtraction(ctx context.Context, recordID uuid.UUID) error
}

type Gateway struct {
	workspaces repository.WorkspaceRepository
	imports    repository.ImportRepository
	billing    *billing.Service
	queue      ExtractionQueue
	audit      audit.Sink
	log        *zap.Logger
}

func NewGateway(
	workspaces repository.WorkspaceRepository,
	imports repository.ImportRepository,
	billingSvc *billing.Service,
	queue ExtractionQueue,
	sink audit.Sink,
	log *zap.Logger,
) *Gateway {
	return &Gateway{
		workspaces: workspaces,
		imports:    imports,
		billing:    billingSvc,
		queue:      queue,
		audit:      sink,
		log:        log.Named("commands"),
	}
}

func (g *Gateway) Handle(ctx context.Context, req Request) Response {
	cmd := Parse(req.Text)

	ws, err := g.workspaces.GetByChatTeam(ctx, req.TeamID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return ephemeral("This chat workspace is not connected to an invoicing workspace yet.")
		}
		return g.fail(cmd, err)
	}

	g.audit.Record(ctx, audit.Event{
		Actor:       req.UserID,
		Action:      audit.ActionCommandReceived,
		WorkspaceID: ws.ID,
		Metadata: map[string]any{
			"command": cmd.Name,
			"channel": req.ChannelID,
		},
	})

	var resp Response
	switch cmd.Name {
	case CmdCreate:
		resp, err = g.create(ctx, ws, req, cmd, models.ImportFromText)
	case CmdFromThread:
		resp, err = g.create(ctx, ws, req, cmd, models.ImportFromThread)
	case CmdStatus:
		resp, err = g.status(ctx, ws, cmd)
	case CmdSend:
		resp, err = g.send(ctx, ws, req, cmd)
	case CmdMarkPaid:
		resp, err = g.markPaid(ctx, ws, req, cmd)
	case CmdUnknown:
		resp = ephemeral(fmt.Sprintf("I don't know the command `%s`.\n\n%s", cmd.Word, helpText))
	default:
		resp = ephemeral(helpText)
	}
	if err != nil {
		return g.fail(cmd, err)
	}
	return resp
}

func (g *Gateway) fail(cmd Command, err error) Response {
	if apperr.KindOf(err) == apperr.KindInfrastructure {
		g.log.Error("command failed", zap.String("command", cmd.Name), zap.Error(err))
		return ephemeral("Something went wrong on our side. Please try again in a moment.")
	}
	g.log.Info("command rejected", zap.String("command", cmd.Name), zap.Error(err))
	return ephemeral(":warning: " + apperr.UserMessage(err))
}

func (g *Gateway) create(ctx context.Context, ws *models.Workspace, req Request, cmd Command, source models.ImportSource) (Response, error) {
	switch {
	case source == models.ImportFromText && cmd.Args == "":
		return Response{}, apperr.Validation("Describe the invoice, e.g. `create 10 hours design work for Globex, 120/h, due in 14 days`")
	case source == models.ImportFromThread && req.ThreadRef == "":
		return Response{}, apperr.Validation("Run `from-thread` as a reply inside the thread you want to invoice from.")
	}

	rec := &models.ImportRecord{
		WorkspaceID: ws.ID,
		Source:      source,
		RawText:     cmd.Args,
		ThreadRef:   req.ThreadRef,
		ChannelRef:  req.ChannelID,
		RequestedBy: req.UserID,
		Status:      models.ImportPending,
	}
	if err := g.imports.Create(ctx, rec); err != nil {
		return Response{}, err
	}
	if err := g.queue.EnqueueExtraction(ctx, rec.ID); err != nil {
		_ = g.imports.Fail(ctx, rec.ID, "could not queue extraction: "+err.Error(), true)
		return Response{}, apperr.Infrastructure(err, "enqueue extraction")
	}

	return ephemeral(fmt.Sprintf(":hourglass_flowing_sand: Working on it. I'll draft the invoice in the background (request `%s`).", rec.ID.String()[:8])), nil
}

func (g *Gateway) lookup(ctx context.Context, ws *models.Workspace, args, usage string) (*models.Invoice, error) {
	number := firstToken(args)
	if number == "" {
		return nil, apperr.Validation(usage)
	}
	inv, err := g.billing.GetByNumber(ctx, ws.ID, number)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("Invoice %s", strings.ToUpper(number)))
	}
	return inv, err
}

func (g *Gateway) status(ctx context.Context, ws *models.Workspace, cmd Command) (Response, error) {
	inv, err := g.lookup(ctx, ws, cmd.Args, "Usage: `status <invoice-number>`")
	if err != nil {
		return Response{}, err
	}

	loc := ws.Location()
	client := "unknown client"
	if inv.Client != nil {
		client = inv.Client.Name
	}
	lastSent := "never"
	if inv.LastSentAt != nil {
		lastSent = inv.LastSentAt.In(loc).Format("2 Jan 2006 15:04")
	}
	reminders := "off"
	if inv.RemindersEnabled {
		reminders = "on"
	}

	text := fmt.Sprintf("*%s* is *%s*", inv.InvoiceNumber, inv.Status)
	return Response{
		ResponseType: ResponseEphemeral,
		Text:         text,
		Blocks: []Block{
			section(text),
			{
				Type: "section",
				Fields: []TextObject{
					markdown("*Client*\n" + client),
					markdown(fmt.Sprintf("*Total*\n%s %s", inv.Currency, inv.Total.StringFixed(2))),
					markdown("*Due*\n" + inv.DueDate.UTC().Format("2 Jan 2006")),
					markdown("*Last sent*\n" + lastSent),
					markdown("*Reminders*\n" + reminders),
				},
			},
		},
	}, nil
}

func (g *Gateway) send(ctx context.Context, ws *models.Workspace, req Request, cmd Command) (Response, error) {
	inv, err := g.lookup(ctx, ws, cmd.Args, "Usage: `send <invoice-number>`")
	if err != nil {
		return Response{}, err
	}
	sent, err := g.billing.Send(ctx, ws, inv, req.UserID)
	if err != nil {
		return Response{}, err
	}
	return ephemeral(fmt.Sprintf(":incoming_envelope: Sent %s to %s.", sent.InvoiceNumber, sent.Client.Email)), nil
}

func (g *Gateway) markPaid(ctx context.Context, ws *models.Workspace, req Request, cmd Command) (Response, error) {
	args, err := ParseMarkPaid(cmd.Args)
	if err != nil {
		return Response{}, err
	}
	inv, err := g.billing.GetByNumber(ctx, ws.ID, args.Number)
	if apperr.Is(err, apperr.KindNotFound) {
		return Response{}, apperr.NotFound(fmt.Sprintf("Invoice %s", args.Number))
	}
	if err != nil {
		return Response{}, err
	}

	res, err := g.billing.MarkPaid(ctx, inv, billing.PaymentInput{
		Amount:    args.Amount,
		Method:    args.Method,
		Reference: args.Reference,
	}, req.UserID)
	if err != nil {
		return Response{}, err
	}
	if res.NoOp {
		return ephemeral(fmt.Sprintf("%s is already marked as paid. Nothing changed.", inv.InvoiceNumber)), nil
	}

	who := req.UserName
	if who == "" {
		who = req.UserID
	}
	text := fmt.Sprintf(":white_check_mark: %s marked *%s* as paid: %s %s via %s.",
		who, inv.InvoiceNumber, inv.Currency, args.Amount.StringFixed(2), args.Method)
	switch {
	case res.IsPartial:
		text += fmt.Sprintf(" Partial payment, %s %s still outstanding.", inv.Currency, inv.Total.Sub(args.Amount).StringFixed(2))
	case res.IsOverpaid:
		text += fmt.Sprintf(" Overpaid by %s %s.", inv.Currency, args.Amount.Sub(inv.Total).StringFixed(2))
	}
	return Response{
		ResponseType: ResponseInChannel,
		Text:         text,
		Blocks:       []Block{section(text)},
	}, nil
}
