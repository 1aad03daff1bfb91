package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces the value of any sensitive attribute.
const RedactedValue = "[REDACTED]"

// Attribute keys whose values never reach the log sink. Matching ignores case
// and the separators '-', '_' and '.'.
var sensitiveKeys = map[string]struct{}{
	"authorization":  {},
	"bearer":         {},
	"token":          {},
	"jwt":            {},
	"secret":         {},
	"jwtsecret":      {},
	"password":       {},
	"passphrase":     {},
	"idempotencykey": {},
	"cookie":         {},
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("-", "", "_", "", ".", "").Replace(key)
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// SensitiveKeys lists the normalized keys that are masked, sorted.
func SensitiveKeys() []string {
	keys := make([]string, 0, len(sensitiveKeys))
	for key := range sensitiveKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns the placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// redact is applied to every attribute by the handler built in setup.
func redact(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString {
		return slog.String(attr.Key, MaskValue(attr.Value.String()))
	}
	return slog.String(attr.Key, RedactedValue)
}
