// Package logger provides the structured logger the worker's scheduler
// loop takes in its constructor, instead of reaching for slog.Default()
// globally.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the logging surface the rest of the engine depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	// With returns a Logger that attaches the given key-value pairs to
	// every subsequent record, for per-component context (worker id, dag
	// key, op hash).
	With(args ...any) Logger
}

type slogLogger struct {
	handler slog.Handler
}

// Option configures New.
type Option func(*config)

type config struct {
	level    slog.Level
	filePath string
	json     bool
}

// WithLevel sets the minimum emitted level. Defaults to Info.
func WithLevel(lvl slog.Level) Option { return func(c *config) { c.level = lvl } }

// WithFile fans log records out to path in addition to stderr.
func WithFile(path string) Option { return func(c *config) { c.filePath = path } }

// WithJSON switches the console handler to JSON instead of text.
func WithJSON() Option { return func(c *config) { c.json = true } }

// New builds a Logger fanned out through github.com/samber/slog-multi
// across the console handler and the optional file handler.
func New(opts ...Option) Logger {
	cfg := config{level: slog.LevelInfo}
	for _, o := range opts {
		o(&cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level, AddSource: true}
	var handlers []slog.Handler
	if cfg.json {
		handlers = append(handlers, slog.NewJSONHandler(os.Stderr, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, handlerOpts))
	}
	if cfg.filePath != "" {
		if f, err := os.OpenFile(cfg.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = slogmulti.Fanout(handlers...)
	}
	return &slogLogger{handler: handler}
}

// Discard builds a Logger that drops every record, for tests that don't
// care about log output.
func Discard() Logger {
	return &slogLogger{handler: slog.NewTextHandler(io.Discard, nil)}
}

func (l *slogLogger) log(level slog.Level, msg string, args ...any) {
	if !l.handler.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	// Skip runtime.Callers, this log helper, and the exported Debug/Info/…
	// method that called it, so the recorded source is the caller's.
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.handler.Handle(context.Background(), r)
}

func (l *slogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *slogLogger) Debugf(format string, args ...any) { l.log(slog.LevelDebug, fmt.Sprintf(format, args...)) }
func (l *slogLogger) Infof(format string, args ...any)  { l.log(slog.LevelInfo, fmt.Sprintf(format, args...)) }
func (l *slogLogger) Warnf(format string, args ...any)  { l.log(slog.LevelWarn, fmt.Sprintf(format, args...)) }
func (l *slogLogger) Errorf(format string, args ...any) { l.log(slog.LevelError, fmt.Sprintf(format, args...)) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{handler: l.handler.WithAttrs(argsToAttrs(args))}
}

func argsToAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}
