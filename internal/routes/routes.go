package routes

import (
	"net/http"

	"invoice-automation-backend/internal/app"
	"invoice-automation-backend/internal/config"
	handler "invoice-automation-backend/internal/handlers"
	"invoice-automation-backend/internal/middleware"
	"invoice-automation-backend/internal/services/commands"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RegisterRoutes mounts every endpoint. guard may be nil, which turns the
// replay check off.
func RegisterRoutes(
	r *gin.Engine,
	db *gorm.DB,
	cfg *config.Config,
	svc *app.Services,
	queue commands.ExtractionQueue,
	guard middleware.ReplayGuard,
	log *zap.Logger,
) {
	repos := svc.Repos

	gateway := commands.NewGateway(repos.Workspaces, repos.Imports, svc.Billing, queue, svc.Audit, log)
	commandHandler := handler.NewCommandHandler(gateway)
	cronHandler := handler.NewCronHandler(svc.Dispatcher, svc.Notifier, log)
	invoiceHandler := handler.NewInvoiceHandler(
		repos.Workspaces,
		repos.Clients,
		repos.Reminders,
		repos.History,
		repos.Payments,
		repos.Audits,
		svc.Billing,
		svc.Scheduler,
		log,
	)
	verifier := middleware.NewSignatureVerifier(cfg.CommandSigningSecret, cfg.SignatureTolerance, guard, log)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Chat commands: signature first, nothing is looked up before it passes
	api.POST("/commands",
		middleware.RateLimit(cfg.MaxCommandsPerMin, log),
		verifier.Middleware(),
		commandHandler.Handle,
	)

	// Periodic passes
	cron := api.Group("/cron", middleware.CronAuth(cfg.CronSecret))
	{
		cron.POST("/reminders", cronHandler.RunReminders)
		cron.POST("/draft-approvals", cronHandler.RunDraftApprovals)
		cron.GET("/draft-approvals", cronHandler.ListAtRiskDrafts)
	}

	clients := api.Group("/clients")
	{
		clients.GET("", invoiceHandler.ListClients)
		clients.POST("", invoiceHandler.CreateClient)
	}

	// Invoice routes
	invoices := api.Group("/invoices")
	{
		invoices.GET("", invoiceHandler.ListInvoices)
		invoices.POST("", invoiceHandler.CreateInvoice)
		invoices.POST("/upload", invoiceHandler.UploadInvoices)
		invoices.GET("/:id", invoiceHandler.GetInvoice)
		invoices.POST("/:id/schedule", invoiceHandler.ScheduleInvoice)
		invoices.POST("/:id/send", invoiceHandler.SendInvoice)
		invoices.POST("/:id/mark-paid", invoiceHandler.MarkPaid)
		invoices.POST("/:id/cancel", invoiceHandler.CancelInvoice)
		invoices.PUT("/:id/due-date", invoiceHandler.UpdateDueDate)
		invoices.GET("/:id/payments", invoiceHandler.ListPayments)
		invoices.GET("/:id/audit", invoiceHandler.ListAudit)

		invoices.GET("/:id/reminders", invoiceHandler.GetReminders)
		invoices.POST("/:id/reminders", invoiceHandler.EnableReminders)
		invoices.DELETE("/:id/reminders", invoiceHandler.DisableReminders)
		invoices.POST("/:id/reminders/:stepId/resend", invoiceHandler.ResendReminder)
	}

	reminders := api.Group("/reminders")
	{
		reminders.GET("/stats", invoiceHandler.ReminderStats)
		reminders.GET("/history", invoiceHandler.ListHistory)
	}
}
