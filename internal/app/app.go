// Package app builds the repositories and services shared by the HTTP
// server and the background worker.
package app

import (
	"invoice-automation-backend/internal/audit"
	"invoice-automation-backend/internal/channels"
	"invoice-automation-backend/internal/config"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/repository"
	"invoice-automation-backend/internal/services/approval"
	"invoice-automation-backend/internal/services/billing"
	"invoice-automation-backend/internal/services/dispatcher"
	"invoice-automation-backend/internal/services/scheduler"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Repositories struct {
	Workspaces repository.WorkspaceRepository
	Clients    repository.ClientRepository
	Invoices   repository.InvoiceRepository
	Reminders  repository.ReminderRepository
	History    repository.HistoryRepository
	Audits     repository.AuditRepository
	Imports    repository.ImportRepository
	Notices    repository.NoticeRepository
	Payments   repository.PaymentRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Workspaces: repository.NewGormWorkspaceRepo(db),
		Clients:    repository.NewGormClientRepo(db),
		Invoices:   repository.NewGormInvoiceRepo(db),
		Reminders:  repository.NewGormReminderRepo(db),
		History:    repository.NewGormHistoryRepo(db),
		Audits:     repository.NewGormAuditRepo(db),
		Imports:    repository.NewGormImportRepo(db),
		Notices:    repository.NewGormNoticeRepo(db),
		Payments:   repository.NewGormPaymentRepo(db),
	}
}

type Services struct {
	Repos      *Repositories
	Audit      audit.Sink
	Sender     channels.Sender
	Renderer   *channels.Renderer
	Scheduler  *scheduler.Service
	Billing    *billing.Service
	Dispatcher *dispatcher.Dispatcher
	Notifier   *approval.Notifier
}

func NewServices(db *gorm.DB, cfg *config.Config, sender channels.Sender, log *zap.Logger) *Services {
	repos := NewRepositories(db)
	sink := audit.New(log, repos.Audits)
	renderer := channels.NewRenderer()

	sched := scheduler.NewService(repos.Invoices, repos.Reminders, sink, log)
	return &Services{
		Repos:     repos,
		Audit:     sink,
		Sender:    sender,
		Renderer:  renderer,
		Scheduler: sched,
		Billing: billing.NewService(repos.Invoices, repos.Clients, repos.Reminders, sched,
			sender, renderer, sink, log),
		Dispatcher: dispatcher.New(repos.Workspaces, repos.Invoices, repos.Reminders, repos.History,
			sender, renderer, sink, log, dispatcher.Config{Concurrency: cfg.DispatchConcurrency}),
		Notifier: approval.NewNotifier(repos.Workspaces, repos.Invoices, repos.Notices,
			sender, renderer, sink, log, cfg.DraftApprovalOffsets),
	}
}

// NewSender routes email over SMTP and WhatsApp over the Cloud API. A
// channel without credentials logs the message instead of sending it.
func NewSender(cfg *config.Config, log *zap.Logger) *channels.Router {
	r := channels.NewRouter(log)

	if cfg.SMTPHost != "" {
		r.Register(models.ChannelEmail, channels.NewSMTPTransport(channels.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
	} else {
		log.Warn("SMTP_HOST not set, email is logged instead of sent")
		r.Register(models.ChannelEmail, channels.NewLogTransport("email", log))
	}

	if cfg.WhatsAppToken != "" && cfg.WhatsAppPhoneID != "" {
		r.Register(models.ChannelWhatsApp, channels.NewWhatsAppTransport(channels.WhatsAppConfig{
			APIURL:  cfg.WhatsAppAPIURL,
			Token:   cfg.WhatsAppToken,
			PhoneID: cfg.WhatsAppPhoneID,
		}, nil))
	} else {
		log.Warn("WhatsApp credentials not set, messages are logged instead of sent")
		r.Register(models.ChannelWhatsApp, channels.NewLogTransport("whatsapp", log))
	}
	return r
}
