// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

// New builds a zap.Logger configured for development or production at the given level.
// An empty level keeps the config default (debug in development, info in production).
func New(development bool, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if strings.TrimSpace(level) != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build(zap.Fields(zap.String("service", "careers-crawler")))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ForRun annotates logger with the identity of a queued run.
func ForRun(logger *zap.Logger, item crawler.QueueItem) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("run_id", item.ID),
		zap.String("mode", string(item.Request.Mode)),
		zap.Int("attempt", item.Attempt),
	}
	if item.Request.CompanyID != "" {
		fields = append(fields, zap.String("company_id", item.Request.CompanyID))
	}
	if item.Request.CompanyName != "" {
		fields = append(fields, zap.String("company", item.Request.CompanyName))
	}
	return logger.With(fields...)
}
