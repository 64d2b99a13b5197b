package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Production gets JSON output at the
// configured level, everything else the colored development encoder.
func New(env, level string) (*zap.Logger, error) {
	var cfg zap.Config

	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl := zap.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zap.InfoLevel
		}
	}
	if env != "production" && level == "" {
		lvl = zap.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// Must is New for process startup, where a broken logger is fatal.
func Must(env, level string) *zap.Logger {
	l, err := New(env, level)
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(l)
	return l
}
