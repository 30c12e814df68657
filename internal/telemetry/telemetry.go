// Package telemetry wires the process-wide structured logger and the
// integrity-alert path: zap.NewProductionConfig/NewDevelopmentConfig
// selected by ENV_NAME, with LOG_LEVEL overriding the level.
package telemetry

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. env is typically "production" or
// "development"; logLevel is a zapcore level name ("debug", "info", ...)
// and may be empty to use the config's default.
func NewLogger(env, logLevel string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if logLevel != "" {
		var lvl zapcore.Level
		if err := lvl.Set(logLevel); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	cfg.DisableStacktrace = true
	return cfg.Build()
}

// NewLoggerFromEnv is the cmd/arena entrypoint convenience wrapper.
func NewLoggerFromEnv() (*zap.Logger, error) {
	return NewLogger(os.Getenv("ENV_NAME"), os.Getenv("LOG_LEVEL"))
}

// Alert records an integrity-class error (a settlement invariant violation,
// a reconciliation mismatch) at Error level with a distinguishing field, so
// log-based alerting rules can page on it without a dedicated pipeline.
func Alert(log *zap.Logger, matchID, reason string, err error) {
	log.Error("integrity_alert",
		zap.String("matchId", matchID),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
