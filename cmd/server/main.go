package main

import (
	"fmt"
	"log"
	"os"

	"invoice-automation-backend/internal/config"
	"invoice-automation-backend/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env")
	}

	rootCmd := &cobra.Command{
		Use:   "invoice-server",
		Short: "Invoice follow-up automation: API, chat commands and reminder dispatch",
		// serve is the default so the container entrypoint can stay bare
		RunE: runServe,
	}
	rootCmd.AddCommand(serveCmd, workerCmd, dispatchCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads config, builds the logger and opens the database.
func bootstrap() (*config.Config, *zap.Logger, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	zlog := logger.Must(cfg.Env, cfg.LogLevel)

	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, zlog, db, nil
}
