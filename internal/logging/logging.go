// Package logging provides structured JSON logging with sanitization.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Redacted replaces sanitized values.
const Redacted = "[REDACTED]"

// sensitiveKeys are keys that should be sanitized in logs.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"key",
	"credential",
	"passphrase",
	"auth",
}

// commandKeys hold command lines; their values get inline secrets masked.
var commandKeys = map[string]bool{"command": true, "cmd": true}

// textKeys hold terminal text such as prompts and output lines. Their values
// are masked like commands and cut to MaxLoggedText.
var textKeys = map[string]bool{"prompt": true, "line": true, "output": true}

// MaxLoggedText bounds terminal text copied into a log record.
const MaxLoggedText = 120

var inlineSecrets = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(--?(?:password|passwd|pass|pw)[= ])(\S+)`),
	regexp.MustCompile(`(?i)(\b\w*(?:password|passwd|token|secret)\w*=)(\S+)`),
	regexp.MustCompile(`(\bsshpass\s+-p\s*)(\S+)`),
	regexp.MustCompile(`(\b(?:mysql|mariadb|mysqldump)\b.*?\s-p)([^\s-]\S*)`),
	regexp.MustCompile(`(://[^:/\s@]+:)([^@\s]+)(@)`),
}

// RedactCommand masks passwords written inline in a command line.
func RedactCommand(cmd string) string {
	for _, re := range inlineSecrets {
		cmd = re.ReplaceAllStringFunc(cmd, func(m string) string {
			sub := re.FindStringSubmatch(m)
			out := sub[1] + Redacted
			if len(sub) > 3 {
				out += sub[3]
			}
			return out
		})
	}
	return cmd
}

// TruncateForLog shortens s to at most maxLen bytes plus an ellipsis.
func TruncateForLog(s string, maxLen int) string {
	if maxLen < 0 {
		maxLen = 0
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// SanitizingHandler wraps a slog.Handler to sanitize sensitive data.
type SanitizingHandler struct {
	handler  slog.Handler
	sanitize bool
}

// NewSanitizingHandler creates a new sanitizing handler.
func NewSanitizingHandler(handler slog.Handler, sanitize bool) *SanitizingHandler {
	return &SanitizingHandler{
		handler:  handler,
		sanitize: sanitize,
	}
}

// Enabled implements slog.Handler.
func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.sanitize {
		return h.handler.Handle(ctx, r)
	}

	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(sanitizeAttr(a))
		return true
	})
	return h.handler.Handle(ctx, clean)
}

// WithAttrs implements slog.Handler.
func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.sanitize {
		clean := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			clean[i] = sanitizeAttr(a)
		}
		attrs = clean
	}
	return &SanitizingHandler{
		handler:  h.handler.WithAttrs(attrs),
		sanitize: h.sanitize,
	}
}

// WithGroup implements slog.Handler.
func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{
		handler:  h.handler.WithGroup(name),
		sanitize: h.sanitize,
	}
}

func sanitizeAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			return slog.String(a.Key, Redacted)
		}
	}

	if a.Value.Kind() == slog.KindString {
		switch {
		case commandKeys[key]:
			return slog.String(a.Key, RedactCommand(a.Value.String()))
		case textKeys[key]:
			return slog.String(a.Key, TruncateForLog(RedactCommand(a.Value.String()), MaxLoggedText))
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		clean := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			clean[i] = sanitizeAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	}

	return a
}

// ParseLevel maps a config level name to a slog.Level; unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a JSON logger writing to w.
func New(w io.Writer, level string, sanitize bool) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(NewSanitizingHandler(jsonHandler, sanitize))
}

// Setup initializes the global logger on stderr.
func Setup(level string, sanitize bool) {
	slog.SetDefault(New(os.Stderr, level, sanitize))
}
