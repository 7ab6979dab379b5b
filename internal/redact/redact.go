// Package redact strips secret values from arbitrary structured data before
// it is logged, persisted to the audit table, or exported.
package redact

import "regexp"

// Sentinel replaces any matched secret value.
const Sentinel = "[REDACTED]"

// Key names are matched, not values: a field called "token", "api_key",
// "client_secret", "password", or "authorization" is a secret regardless of
// what it holds.
var secretKeyRegex = regexp.MustCompile(`(?i)(token|key|secret|password|authorization)`)

// Redact walks v and replaces every non-empty string value whose map key
// matches the secret pattern. Non-matching values are recursed into;
// primitives and nil pass through unchanged. The input is never mutated.
func Redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if secretKeyRegex.MatchString(k) {
				if s, ok := inner.(string); ok && s != "" {
					out[k] = Sentinel
					continue
				}
			}
			out[k] = Redact(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Redact(inner)
		}
		return out
	default:
		return v
	}
}

// Map is a convenience wrapper for the common audit-data case.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return Redact(m).(map[string]any)
}
