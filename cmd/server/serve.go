package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"invoice-automation-backend/internal/app"
	"invoice-automation-backend/internal/cache"
	"invoice-automation-backend/internal/middleware"
	"invoice-automation-backend/internal/models"
	"invoice-automation-backend/internal/routes"
	"invoice-automation-backend/internal/tasks"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	if !cfg.IsProduction() {
		if err := db.AutoMigrate(models.All()...); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var guard middleware.ReplayGuard
	rdb, err := cache.NewRedis(ctx, cfg)
	if err != nil {
		log.Warn("redis unavailable, command replay guard disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		guard = cache.NewReplayGuard(rdb, cfg.SignatureTolerance)
	}

	queue := tasks.NewQueue(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisQueueDB,
	}, cfg.ExtractionMaxRetry)
	defer queue.Close()

	svc := app.NewServices(db, cfg, app.NewSender(cfg, log), log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.RequestLogger(log))
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Workspace-ID", "X-Actor"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, db, cfg, svc, queue, guard, log)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
