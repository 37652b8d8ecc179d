package logging

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sensitiveKeys is the case-insensitive set masked before emission, per
// spec.md §6. Matching generalizes respond.SanitizeError's regex-on-string
// masking into a structural, recursive walk, since a slog attribute value
// can itself be a nested map/slice rather than a single string.
var sensitiveKeys = map[string]struct{}{
	"api_key":       {},
	"authorization": {},
	"password":      {},
	"secret":        {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
}

const redactedPlaceholder = "[REDACTED]"

// RedactingHandler wraps an slog.Handler, replacing sensitive attribute
// values with a placeholder and coercing non-serialisable values into the
// JSON-friendly shapes spec.md §6 defines, before delegating to next.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps handler with the redaction pass.
func NewRedactingHandler(handler slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: handler}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	redacted := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, redacted)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(out)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

// redactAttr replaces a's value with the placeholder if its key is
// sensitive, and otherwise recurses into group values so a nested
// credential can't escape masking by being wrapped in a slog.Group.
func redactAttr(a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, redactedPlaceholder)
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		out := make([]slog.Attr, len(group))
		for i, ga := range group {
			out[i] = redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	if coerced, ok := coerceValue(a.Value.Any()); ok {
		return slog.Any(a.Key, coerced)
	}
	return a
}

func isSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// coerceValue implements spec.md §6's non-serialisable value rules, and
// recurses into maps/slices so a credential buried inside a struct field's
// map[string]any still gets masked. Returns ok=false when v needs no
// coercion, so callers can leave the original attribute alone.
func coerceValue(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case uuid.UUID:
		return val.String(), true
	case time.Time:
		return val.UTC().Format(time.RFC3339), true
	case []byte:
		if isValidUTF8(val) {
			return string(val), true
		}
		return map[string]string{"__b64__": base64.StdEncoding.EncodeToString(val)}, true
	case error:
		return map[string]string{"type": errorTypeName(val), "message": val.Error()}, true
	case map[string]interface{}:
		return redactMap(val), true
	case []interface{}:
		return redactSlice(val), true
	default:
		return nil, false
	}
}

func redactMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		if coerced, ok := coerceValue(v); ok {
			out[k] = coerced
			continue
		}
		out[k] = v
	}
	return out
}

func redactSlice(s []interface{}) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		if coerced, ok := coerceValue(v); ok {
			out[i] = coerced
			continue
		}
		out[i] = v
	}
	return out
}

func isValidUTF8(b []byte) bool {
	return strings.ToValidUTF8(string(b), "") == string(b)
}

func errorTypeName(err error) string {
	return fmt.Sprintf("%T", err)
}
