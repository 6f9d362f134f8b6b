package main

import (
	"context"
	"io"
	"strings"

	"github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-subflow"
)

type glogLogger struct {
	logger glog.Logger
}

func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogLogger) WithContext(ctx context.Context) subflow.Logger {
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) subflow.Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

func newLogger(w io.Writer, format, level string) subflow.Logger {
	if format == "text" {
		return subflow.NewFmtLogger(w, subflow.WithMinLevel(parseLevel(level)))
	}
	return glogLogger{logger: glog.NewLogger(
		glog.WithWriter(w),
		glog.WithLoggerTypeJSON(),
		glog.WithLevel(level),
	)}
}

func parseLevel(level string) subflow.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return subflow.LevelTrace
	case "debug":
		return subflow.LevelDebug
	case "warn", "warning":
		return subflow.LevelWarn
	case "error":
		return subflow.LevelError
	case "fatal":
		return subflow.LevelFatal
	default:
		return subflow.LevelInfo
	}
}
