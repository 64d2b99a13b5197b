package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/channels"
	"invoice-automation-backend/internal/invoice"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"
	"invoice-automation-backend/internal/services/billing"
	"invoice-automation-backend/internal/services/scheduler"
	"invoice-automation-backend/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type nopSender struct{}

func (nopSender) Send(context.Context, models.Channel, string, channels.Message) error { return nil }

type fakeQueue struct {
	ids []uuid.UUID
	err error
}

func (q *fakeQueue) EnqueueExtraction(_ context.Context, id uuid.UUID) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

type fixture struct {
	db      *gorm.DB
	gw      *Gateway
	queue   *fakeQueue
	imports *repository.GormImportRepo
	ws      *models.Workspace
	client  *models.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := zap.NewNop()
	invoices := repository.NewGormInvoiceRepo(db)
	reminders := repository.NewGormReminderRepo(db)
	imports := repository.NewGormImportRepo(db)
	sink := audit.New(log, repository.NewGormAuditRepo(db))

	sched := scheduler.NewService(invoices, reminders, sink, log)
	svc := billing.NewService(invoices, repository.NewGormClientRepo(db), reminders, sched, nopSender{}, channels.NewRenderer(), sink, log)
	queue := &fakeQueue{}

	ws := testutil.SeedWorkspace(t, db, "UTC")
	return &fixture{
		db:      db,
		gw:      NewGateway(repository.NewGormWorkspaceRepo(db), imports, svc, queue, sink, log),
		queue:   queue,
		imports: imports,
		ws:      ws,
		client:  testutil.SeedClient(t, db, ws, "Globex", "ap@globex.test", ""),
	}
}

func (f *fixture) handle(text string) Response {
	return f.gw.Handle(context.Background(), Request{
		TeamID:    f.ws.ChatTeamID,
		UserID:    "U42",
		UserName:  "dana",
		ChannelID: "C1",
		Text:      text,
	})
}

func TestHandle_UnknownTeam(t *testing.T) {
	f := newFixture(t)
	resp := f.gw.Handle(context.Background(), Request{TeamID: "T-nope", Text: "help"})

	assert.Equal(t, ResponseEphemeral, resp.ResponseType)
	assert.Contains(t, resp.Text, "not connected")
}

func TestHandle_HelpAndUnknown(t *testing.T) {
	f := newFixture(t)

	help := f.handle("")
	assert.Equal(t, ResponseEphemeral, help.ResponseType)
	assert.Contains(t, help.Text, "mark-paid")

	unknown := f.handle("refund INV-1")
	assert.Contains(t, unknown.Text, "`refund`")
	assert.Contains(t, unknown.Text, "status <invoice-number>")
}

func TestHandle_StatusIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	testutil.SeedInvoice(t, f.db, f.ws, f.client, "INV-0042", invoice.StatusSent, "1250.00",
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	resp := f.handle("status inv-0042")

	assert.Equal(t, ResponseEphemeral, resp.ResponseType)
	assert.Equal(t, "*INV-0042* is *sent*", resp.Text)
	require.Len(t, resp.Blocks, 2)
	assert.Contains(t, resp.Blocks[1].Fields[1].Text, "USD 1250.00")
}

func TestHandle_StatusNotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.handle("status INV-9999")

	assert.Equal(t, ResponseEphemeral, resp.ResponseType)
	assert.Contains(t, resp.Text, "Invoice INV-9999 not found")
}

func TestHandle_MarkPaidPartialThenIdempotent(t *testing.T) {
	f := newFixture(t)
	inv := testutil.SeedInvoice(t, f.db, f.ws, f.client, "INV-0007", invoice.StatusSent, "1000.00",
		time.Now().AddDate(0, 0, 5))

	first := f.handle(`mark-paid inv-0007 400 wire "TX-88"`)
	assert.Equal(t, ResponseInChannel, first.ResponseType)
	assert.Contains(t, first.Text, "USD 400.00 via wire")
	assert.Contains(t, first.Text, "USD 600.00 still outstanding")

	var stored models.Invoice
	require.NoError(t, f.db.First(&stored, "id = ?", inv.ID).Error)
	assert.Equal(t, invoice.StatusPaid, stored.Status)
	assert.Contains(t, stored.Notes, "(ref: TX-88)")

	second := f.handle("mark-paid INV-0007 400 wire")
	assert.Equal(t, ResponseEphemeral, second.ResponseType)
	assert.Contains(t, second.Text, "already marked as paid")

	var payments int64
	require.NoError(t, f.db.Model(&models.Payment{}).Where("invoice_id = ?", inv.ID).Count(&payments).Error)
	assert.Equal(t, int64(1), payments)
}

func TestHandle_MarkPaidBadArgs(t *testing.T) {
	f := newFixture(t)

	resp := f.handle("mark-paid INV-0007 lots")

	assert.Equal(t, ResponseEphemeral, resp.ResponseType)
	assert.Contains(t, resp.Text, "Usage")
}

func TestHandle_SendWithoutEmail(t *testing.T) {
	f := newFixture(t)
	noMail := testutil.SeedClient(t, f.db, f.ws, "Initech", "", "")
	testutil.SeedInvoice(t, f.db, f.ws, noMail, "INV-0008", invoice.StatusDraft, "90.00", time.Now().AddDate(0, 0, 5))

	resp := f.handle("send INV-0008")

	assert.Contains(t, resp.Text, "Initech has no email address")
}

func TestHandle_CreateQueuesExtraction(t *testing.T) {
	f := newFixture(t)

	resp := f.handle("create 10h design for Globex at 120/h due in 14 days")

	assert.Equal(t, ResponseEphemeral, resp.ResponseType)
	require.Len(t, f.queue.ids, 1)
	assert.True(t, strings.Contains(resp.Text, f.queue.ids[0].String()[:8]))

	rec, err := f.imports.GetByID(context.Background(), f.queue.ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.ImportPending, rec.Status)
	assert.Equal(t, models.ImportFromText, rec.Source)
	assert.Equal(t, "10h design for Globex at 120/h due in 14 days", rec.RawText)
}

func TestHandle_CreateRequiresDescription(t *testing.T) {
	f := newFixture(t)

	resp := f.handle("create")

	assert.Contains(t, resp.Text, "Describe the invoice")
	assert.Empty(t, f.queue.ids)
}

func TestHandle_FromThreadOutsideThread(t *testing.T) {
	f := newFixture(t)

	resp := f.handle("from-thread")

	assert.Contains(t, resp.Text, "inside the thread")
}

func TestHandle_EnqueueFailureFailsRecord(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("redis down")

	resp := f.handle("create 3 logos for Globex, 300 total")

	assert.Contains(t, resp.Text, "Something went wrong")
	var rec models.ImportRecord
	require.NoError(t, f.db.First(&rec).Error)
	assert.Equal(t, models.ImportFailed, rec.Status)
}
