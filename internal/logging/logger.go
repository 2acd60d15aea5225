// Package logging provides the structured, context-aware logging used by
// every sync-engine component. Adapted from eve.evalgo.org/common's logger:
// a logrus.Logger wrapped by a ContextLogger that chains WithField(s) calls
// and carries sync_id/sync_job_id/entity_id correlation fields through a
// worker's pipeline stages.
package logging

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Config controls how NewLogger builds the root logrus.Logger.
type Config struct {
	Level      Level
	Format     string // "json" or "text"
	Service    string
	AddCaller  bool
	TimeFormat string
}

func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:      "text",
		TimeFormat: time.RFC3339,
	}
}

func NewLogger(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	case LevelFatal:
		logger.SetLevel(logrus.FatalLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: cfg.TimeFormat, FullTimestamp: true})
	}
	logger.SetReportCaller(cfg.AddCaller)

	return logger
}

// ContextLogger is an immutable, chainable logger: each WithX call returns a
// new value carrying the accumulated fields, so concurrent workers can
// safely branch off a shared base logger.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

func (cl *ContextLogger) clone() logrus.Fields {
	next := make(logrus.Fields, len(cl.fields))
	for k, v := range cl.fields {
		next[k] = v
	}
	return next
}

func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	next := cl.clone()
	next[key] = value
	return &ContextLogger{logger: cl.logger, fields: next}
}

func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	next := cl.clone()
	for k, v := range fields {
		next[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: next}
}

func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.WithField("error", err.Error())
}

// WithSyncContext stamps the sync/job/entity correlation fields every
// pipeline stage log line carries.
func (cl *ContextLogger) WithSyncContext(ctx context.Context, syncID, syncJobID, entityID string) *ContextLogger {
	next := cl.clone()
	if syncID != "" {
		next["sync_id"] = syncID
	}
	if syncJobID != "" {
		next["sync_job_id"] = syncJobID
	}
	if entityID != "" {
		next["entity_id"] = entityID
	}
	return &ContextLogger{logger: cl.logger, fields: next}
}

func (cl *ContextLogger) Debug(msg string) { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Info(msg string)  { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Warn(msg string)  { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Error(msg string) { cl.logger.WithFields(cl.fields).Error(msg) }

func (cl *ContextLogger) Debugf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Debugf(format, args...)
}
func (cl *ContextLogger) Infof(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Infof(format, args...)
}
func (cl *ContextLogger) Warnf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Warnf(format, args...)
}
func (cl *ContextLogger) Errorf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Errorf(format, args...)
}

// ServiceLogger creates a logger pre-stamped with service metadata.
func ServiceLogger(logger *logrus.Logger, service, version string) *ContextLogger {
	return NewContextLogger(logger, map[string]interface{}{
		"service": service,
		"version": version,
	})
}

// LogOperation wraps fn with start/end/duration logging, the pattern used to
// bracket each pipeline stage (hash, resolve, route, persist).
func LogOperation(logger *ContextLogger, operation string, fn func() error) error {
	start := time.Now()
	logger.WithField("operation", operation).Info("operation started")

	err := fn()

	entry := logger.WithFields(map[string]interface{}{
		"operation":   operation,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("operation failed")
		return err
	}
	entry.Info("operation completed")
	return nil
}

// LogDuration returns a deferred closure logging the operation's elapsed time.
func LogDuration(logger *ContextLogger, operation string) func() {
	start := time.Now()
	return func() {
		logger.WithFields(map[string]interface{}{
			"operation":   operation,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("operation completed")
	}
}

// LogPanic recovers a panic in a worker goroutine and logs it with a stack
// trace instead of letting one entity's failure crash the pool.
func LogPanic(logger *ContextLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.WithFields(map[string]interface{}{
			"panic":      fmt.Sprintf("%v", r),
			"stacktrace": string(buf[:n]),
		}).Error("panic recovered")
	}
}
