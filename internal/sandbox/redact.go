package sandbox

import "strings"

// Redacted replaces sensitive parameter values.
const Redacted = "[REDACTED]"

var redactKeys = []string{"password", "token", "key", "secret"}

func sensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, r := range redactKeys {
		if strings.Contains(lower, r) {
			return true
		}
	}
	return false
}

// Redact returns a copy of params with values of sensitive keys replaced by
// Redacted. Nested maps are redacted too; params is not modified.
func Redact(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		if m, ok := v.(map[string]any); ok {
			out[k] = Redact(m)
			continue
		}
		out[k] = v
	}
	return out
}
