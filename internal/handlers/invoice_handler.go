package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"
	"invoice-automation-backend/internal/services/billing"
	"invoice-automation-backend/internal/services/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type InvoiceHandler struct {
	workspaces repository.WorkspaceRepository
	clients    repository.ClientRepository
	reminders  repository.ReminderRepository
	history    repository.HistoryRepository
	payments   repository.PaymentRepository
	audits     repository.AuditRepository
	billing    *billing.Service
	scheduler  *scheduler.Service
	log        *zap.Logger
}

func NewInvoiceHandler(
	workspaces repository.WorkspaceRepository,
	clients repository.ClientRepository,
	reminders repository.ReminderRepository,
	history repository.HistoryRepository,
	payments repository.PaymentRepository,
	audits repository.AuditRepository,
	billingSvc *billing.Service,
	sched *scheduler.Service,
	log *zap.Logger,
) *InvoiceHandler {
	return &InvoiceHandler{
		workspaces: workspaces,
		clients:    clients,
		reminders:  reminders,
		history:    history,
		payments:   payments,
		audits:     audits,
		billing:    billingSvc,
		scheduler:  sched,
		log:        log.Named("api"),
	}
}

func invoiceJSON(inv *models.Invoice) gin.H {
	out := gin.H{
		"id":                inv.ID,
		"invoice_number":    inv.InvoiceNumber,
		"client_id":         inv.ClientID,
		"total":             inv.Total.StringFixed(2),
		"currency":          inv.Currency,
		"due_date":          inv.DueDate.UTC().Format(time.DateOnly),
		"status":            inv.Status,
		"reminders_enabled": inv.RemindersEnabled,
		"notes":             inv.Notes,
		"last_sent_at":      inv.LastSentAt,
		"paid_at":           inv.PaidAt,
		"created_at":        inv.CreatedAt,
	}
	if inv.Client != nil {
		out["client_name"] = inv.Client.Name
	}
	return out
}

func stepJSON(st models.ReminderStep) gin.H {
	return gin.H{
		"id":                         st.ID,
		"index":                      st.Index,
		"days_before_due":            st.DaysBeforeDue,
		"days_after_due":             st.DaysAfterDue,
		"minute_offset":              st.MinuteOffset,
		"offset_from_due_in_minutes": st.OffsetFromDueInMinutes,
		"send_at":                    st.SendAt,
		"status":                     st.Status,
		"channel":                    st.Channel,
		"tone":                       st.Tone,
		"notify_creator":             st.NotifyCreator,
		"last_error":                 st.LastError,
		"sent_at":                    st.SentAt,
		"resend_of":                  st.ResendOf,
	}
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, "02-01-2006", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// loadInvoice resolves the workspace header and the :id param.
func (h *InvoiceHandler) loadInvoice(c *gin.Context) (*models.Workspace, *models.Invoice, bool) {
	ws, ok := workspaceFrom(c, h.workspaces, h.log)
	if !ok {
		return nil, nil, false
	}
	id, ok := parseID(c, "id", "invoice")
	if !ok {
		return nil, nil, false
	}
	inv, err := h.billing.Get(c.Request.Context(), ws.ID, id)
	if err != nil {
		respondError(c, h.log, err)
		return nil, nil, false
	}
	return ws, inv, true
}

func (h *InvoiceHandler) CreateClient(c *gin.Context) {
	ws, ok := workspaceFrom(c, h.workspaces, h.log)
	if !ok {
		return
	}
	var payload struct {
		Name  string `json:"name" binding:"required"`
		Email string `json:"email" binding:"omitempty,email"`
		Phone string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	client := &models.Client{
		WorkspaceID: ws.ID,
		Name:        strings.TrimSpace(payload.Name),
		Email:       strings.TrimSpace(payload.Email),
		Phone:       strings.TrimSpace(payload.Phone),
	}
	if err := h.clients.Create(c.Request.Context(), client); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "client created", "client": client})
}

func (h *InvoiceHandler) ListClients(c *gin.Context) {
	ws, ok := workspaceFrom(c, h.workspaces, h.log)
	if !ok {
		return
	}
	clients, err := h.clients.ListByWorkspace(c.Request.Context(), ws.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": clients})
}

func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	ws, ok := workspaceFrom(c, h.workspaces, h.log)
	if !ok {
		return
	}
	var payload struct {
		ClientID      string `json:"client_id" binding:"required"`
		InvoiceNumber string `json:"invoice_number"` // optional
		Total         string `json:"total" binding:"required"`
		Currency      string `json:"currency"`
		DueDate       string `json:"due_date" binding:"required"`
		Notes         string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	clientID, err := uuid.Parse(payload.ClientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client ID"})
		return
	}
	total, err := decimal.NewFromString(payload.Total)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid total"})
		return
	}
	due, ok := parseDate(payload.DueDate)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid due date format, expected yyyy-mm-dd"})
		return
	}

	inv, err := h.billing.CreateDraft(c.Request.Context(), ws, billing.DraftInput{
		ClientID:      clientID,
		InvoiceNumber: payload.InvoiceNumber,
		Total:         total,
		Currency:      payload.Currency,
		DueDate:       due,
		Notes:         payload.Notes,
	}, actor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "invoice created", "invoice": invoiceJSON(inv)})
}

func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	ws, ok := workspaceFrom(c, h.workspaces, h.log)
	if !ok {
		return
	}
	var statuses []invoice.Status
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := invoice.Status(strings.ToLower(strings.TrimSpace(s)))
			if !st.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + s})
				return
			}
			statuses = append(statuses, st)
		}
	}

	invoices, err := h.billing.List(c.Request.Context(), ws.ID, c.Query("q"), statuses)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	items := make([]gin.H, 0, len(invoices))
	for i := range invoices {
		items = append(items, invoiceJSON(&invoices[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	_, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": invoiceJSON(inv)})
}

func (h *InvoiceHandler) ScheduleInvoice(c *gin.Context) {
	_, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	if _, err := h.billing.Schedule(c.Request.Context(), inv, actor(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "invoice scheduled", "invoice": invoiceJSON(inv)})
}

func (h *InvoiceHandler) SendInvoice(c *gin.Context) {
	ws, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	if _, err := h.billing.Send(c.Request.Context(), ws, inv, actor(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "invoice sent", "invoice": invoiceJSON(inv)})
}

func (h *InvoiceHandler) MarkPaid(c *gin.Context) {
	_, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	var payload struct {
		Amount     string `json:"amount" binding:"required"`
		Method     string `json:"method" binding:"required"`
		Reference  string `json:"reference"`
		ReceivedAt string `json:"received_at"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	var received time.Time
	if payload.ReceivedAt != "" {
		if received, ok = parseDate(payload.ReceivedAt); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid received_at"})
			return
		}
	}

	res, err := h.billing.MarkPaid(c.Request.Context(), inv, billing.PaymentInput{
		Amount:     amount,
		Method:     payload.Method,
		Reference:  payload.Reference,
		ReceivedAt: received,
	}, actor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invoice":     invoiceJSON(res.Invoice),
		"no_op":       res.NoOp,
		"is_partial":  res.IsPartial,
		"is_overpaid": res.IsOverpaid,
		"note":        res.Note,
	})
}

func (h *InvoiceHandler) CancelInvoice(c *gin.Context) {
	_, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	if _, err := h.billing.Cancel(c.Request.Context(), inv, actor(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "invoice cancelled", "invoice": invoiceJSON(inv)})
}

func (h *InvoiceHandler) UpdateDueDate(c *gin.Context) {
	ws, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	var payload struct {
		DueDate string `json:"due_date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	due, ok := parseDate(payload.DueDate)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid due date format, expected yyyy-mm-dd"})
		return
	}

	updated, err := h.billing.ChangeDueDate(c.Request.Context(), ws, inv, due, actor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invoice":       invoiceJSON(inv),
		"steps_updated": updated,
	})
}

func (h *InvoiceHandler) GetReminders(c *gin.Context) {
	_, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	sched, err := h.reminders.GetSchedule(c.Request.Context(), inv.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.writeSchedule(c, sched)
}

func (h *InvoiceHandler) writeSchedule(c *gin.Context, sched *models.ReminderSchedule) {
	steps := make([]gin.H, 0, len(sched.Steps))
	for _, st := range sched.Steps {
		steps = append(steps, stepJSON(st))
	}
	c.JSON(http.StatusOK, gin.H{
		"schedule_id":  sched.ID,
		"enabled":      sched.Enabled,
		"use_defaults": sched.UseDefaults,
		"steps":        steps,
	})
}

// EnableReminders switches reminders on. A body with "steps" sets a custom
// cadence; no body or an empty list uses the workspace default.
func (h *InvoiceHandler) EnableReminders(c *gin.Context) {
	ws, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	var payload struct {
		Steps []models.CadenceStep `json:"steps"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	sched, err := h.scheduler.Enable(c.Request.Context(), ws, inv, payload.Steps, actor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.writeSchedule(c, sched)
}

func (h *InvoiceHandler) DisableReminders(c *gin.Context) {
	_, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	if err := h.scheduler.Disable(c.Request.Context(), inv, actor(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reminders disabled"})
}

func (h *InvoiceHandler) ResendReminder(c *gin.Context) {
	_, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	stepID, ok := parseID(c, "stepId", "reminder step")
	if !ok {
		return
	}
	step, err := h.scheduler.Resend(c.Request.Context(), inv, stepID, actor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "reminder queued", "step": stepJSON(*step)})
}

func (h *InvoiceHandler) ReminderStats(c *gin.Context) {
	ws, ok := workspaceFrom(c, h.workspaces, h.log)
	if !ok {
		return
	}
	stats, err := h.billing.ReminderStats(c.Request.Context(), ws.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// ListHistory pages through reminder history, newest first.
func (h *InvoiceHandler) ListHistory(c *gin.Context) {
	ws, ok := workspaceFrom(c, h.workspaces, h.log)
	if !ok {
		return
	}

	filter := repository.HistoryFilter{
		WorkspaceID: ws.ID,
		Outcome:     models.HistoryOutcome(c.Query("outcome")),
		Cursor:      c.Query("cursor"),
	}
	if raw := c.Query("invoice_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice ID"})
			return
		}
		filter.InvoiceID = &id
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	items, nextCursor, hasMore, err := h.history.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":       items,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

func (h *InvoiceHandler) ListPayments(c *gin.Context) {
	_, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	payments, err := h.payments.ListByInvoice(ctx, inv.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	total, err := h.payments.TotalForInvoice(ctx, inv.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":      payments,
		"total_paid": total.StringFixed(2),
		"balance":    inv.Total.Sub(total).StringFixed(2),
	})
}

func (h *InvoiceHandler) ListAudit(c *gin.Context) {
	_, inv, ok := h.loadInvoice(c)
	if !ok {
		return
	}
	entries, err := h.audits.ListByInvoice(c.Request.Context(), inv.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}
