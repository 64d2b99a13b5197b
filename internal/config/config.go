package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort     string   `mapstructure:"APP_PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Redis backs the task queue and the signature replay guard.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB  int    `mapstructure:"REDIS_CACHE_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Chat command gateway.
	CommandSigningSecret string        `mapstructure:"COMMAND_SIGNING_SECRET"`
	SignatureTolerance   time.Duration `mapstructure:"SIGNATURE_TOLERANCE"`
	MaxCommandsPerMin    int           `mapstructure:"MAX_COMMANDS_PER_MIN"`

	// Periodic triggers.
	CronSecret            string `mapstructure:"CRON_SECRET"`
	ReminderCronSpec      string `mapstructure:"REMINDER_CRON_SPEC"`
	DraftApprovalCronSpec string `mapstructure:"DRAFT_APPROVAL_CRON_SPEC"`
	DispatchConcurrency   int    `mapstructure:"DISPATCH_CONCURRENCY"`
	DraftApprovalOffsets  []int  `mapstructure:"DRAFT_APPROVAL_OFFSETS"`

	// Outbound channels.
	SMTPHost        string `mapstructure:"SMTP_HOST"`
	SMTPPort        int    `mapstructure:"SMTP_PORT"`
	SMTPUsername    string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword    string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom        string `mapstructure:"SMTP_FROM"`
	WhatsAppAPIURL  string `mapstructure:"WHATSAPP_API_URL"`
	WhatsAppToken   string `mapstructure:"WHATSAPP_TOKEN"`
	WhatsAppPhoneID string `mapstructure:"WHATSAPP_PHONE_ID"`

	// Background extraction.
	GeminiAPIKey       string `mapstructure:"GEMINI_API_KEY"`
	GeminiModel        string `mapstructure:"GEMINI_MODEL"`
	ExtractionMaxRetry int    `mapstructure:"EXTRACTION_MAX_RETRY"`
	WorkerConcurrency  int    `mapstructure:"WORKER_CONCURRENCY"`
}

// Load reads config.yaml (if present) and the environment into a Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=invoices port=5432 sslmode=disable")
	v.SetDefault("CORS_ORIGINS", []string{"http://localhost:3000"})

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_CACHE_DB", 0)
	v.SetDefault("REDIS_QUEUE_DB", 1)

	v.SetDefault("COMMAND_SIGNING_SECRET", "")
	v.SetDefault("SIGNATURE_TOLERANCE", 5*time.Minute)
	v.SetDefault("MAX_COMMANDS_PER_MIN", 120)

	v.SetDefault("CRON_SECRET", "")
	v.SetDefault("REMINDER_CRON_SPEC", "")
	v.SetDefault("DRAFT_APPROVAL_CRON_SPEC", "")
	v.SetDefault("DISPATCH_CONCURRENCY", 4)
	v.SetDefault("DRAFT_APPROVAL_OFFSETS", []int{7, 3, 1})

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "billing@localhost")
	v.SetDefault("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0")
	v.SetDefault("WHATSAPP_TOKEN", "")
	v.SetDefault("WHATSAPP_PHONE_ID", "")

	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("GEMINI_MODEL", "models/gemini-1.5-pro")
	v.SetDefault("EXTRACTION_MAX_RETRY", 5)
	v.SetDefault("WORKER_CONCURRENCY", 10)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
