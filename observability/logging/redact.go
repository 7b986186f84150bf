package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"signature":     {},
	"authorization": {},
	"jwt":           {},
	"jwt_secret":    {},
	"private_key":   {},
	"token":         {},
	"dsn":           {},
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	_, ok := sensitiveKeys[normalized]
	return ok
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// RedactAttr masks string attributes stored under sensitive keys. It has the
// slog.HandlerOptions.ReplaceAttr signature.
func RedactAttr(_ []string, attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	value := attr.Value.Resolve()
	if value.Kind() != slog.KindString {
		return slog.String(attr.Key, RedactedValue)
	}
	return slog.String(attr.Key, MaskValue(value.String()))
}
