// Package logging provides consistent structured logging using slog.
//
// Log lines use a single flat format so the desktop shell and the service can
// be read side by side in one tail:
//
//	2026-01-06T14:05:52Z [reportsync] INFO Sync complete kind=projects created=2
//
// Initialize once at startup with logging.Init("reportsync"), then use slog
// directly throughout the codebase.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LineHandler implements slog.Handler with the flat line format above.
type LineHandler struct {
	source string
	level  slog.Level
	writer io.Writer
	attrs  []slog.Attr
}

// NewHandler creates a handler writing to w at the given level.
func NewHandler(source string, w io.Writer, level slog.Level) *LineHandler {
	return &LineHandler{
		source: source,
		writer: w,
		level:  level,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes the log record.
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder
	buf.WriteString(r.Time.UTC().Format(time.RFC3339))
	buf.WriteString(" [")
	buf.WriteString(h.source)
	buf.WriteString("] ")
	buf.WriteString(r.Level.String())
	buf.WriteString(" ")
	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, a)
		return true
	})

	buf.WriteString("\n")
	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func writeAttr(buf *strings.Builder, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")
	buf.WriteString(fmt.Sprintf("%v", a.Value.Any()))
}

// WithAttrs returns a new handler with the given attributes pre-applied.
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)
	return &LineHandler{
		source: h.source,
		writer: h.writer,
		level:  h.level,
		attrs:  newAttrs,
	}
}

// WithGroup is accepted but groups are flattened; the line format has no nesting.
func (h *LineHandler) WithGroup(_ string) slog.Handler {
	return h
}

// NewLogger creates a logger with the level taken from LOG_LEVEL.
func NewLogger(source string, w io.Writer) *slog.Logger {
	return slog.New(NewHandler(source, w, levelFromEnv()))
}

func levelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the line-format logger as the slog default.
func Init(source string) {
	InitWithWriter(source, os.Stdout)
}

// InitWithWriter installs the logger with a custom writer (for testing).
func InitWithWriter(source string, w io.Writer) {
	slog.SetDefault(NewLogger(source, w))
}
