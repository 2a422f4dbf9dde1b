// Package logging wires structured logging for adapters and managers. It
// never exposes a package-level logger; every component takes a *zap.Logger
// at construction time, matching the teacher's injection style.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// New builds a *zap.Logger for the given environment name ("production",
// "development", or anything else which falls back to development config
// with a named field).
func New(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("environment", environment)), nil
}

// LogSlowOperation emits a warning when an operation exceeds the configured
// slow-operation threshold, per spec.md §7's debug-mode requirement.
func LogSlowOperation(logger *zap.Logger, operation, table string, elapsed time.Duration, thresholdMS int) {
	if thresholdMS <= 0 || elapsed < time.Duration(thresholdMS)*time.Millisecond {
		return
	}
	logger.Warn("slow storage operation",
		zap.String("operation", operation),
		zap.String("table", table),
		zap.Duration("elapsed", elapsed),
		zap.Int("threshold_ms", thresholdMS),
	)
}
