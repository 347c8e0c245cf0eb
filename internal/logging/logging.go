// Package logging builds the gateway's structured logger on top of
// log/slog, adding a redacting handler generalized from the teacher's
// internal/logger package (which regex-redacted a single API key
// pattern out of a global log ring). Here the redaction table covers
// bearer tokens, OAuth verifiers/codes, and anything tagged secret=/
// token=, and wraps any slog.Handler rather than a bespoke ring.
package logging

import (
	"context"
	"log/slog"
	"regexp"
)

var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]+`),
	regexp.MustCompile(`(?i)(secret|token|verifier|code|client_secret)=[^&\s"]+`),
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9]{10,}`),
}

const redacted = "[REDACTED]"

// Redact scrubs known secret shapes out of a string before it reaches a
// log sink. It is intentionally conservative: false positives (over-
// redaction) are preferable to leaking a verifier or token.
func Redact(s string) string {
	for _, p := range redactPatterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

// redactingHandler wraps a slog.Handler and redacts string attribute
// values before they are emitted.
type redactingHandler struct {
	next slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Message = Redact(r.Message)
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, nr)
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, Redact(a.Value.String()))
	}
	return a
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name)}
}

// New builds a *slog.Logger that passes every record to base after
// applying secret redaction.
func New(base slog.Handler) *slog.Logger {
	return slog.New(&redactingHandler{next: base})
}
