// Package masking redacts credentials before they reach the audit trail.
// Audit rows outlive token rotation, so plaintext secrets must never land
// in them.
package masking

import "strings"

const redacted = "****"

// MaskSecret hides a secret, keeping any "name_" style prefix and the last
// four characters so operators can still match a log line to a token.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, body := splitPrefix(trimmed)
	if len(body) <= 4 {
		return prefix + redacted
	}
	return prefix + redacted + body[len(body)-4:]
}

// MaskJSON deep-copies audit metadata with every string value masked.
// Non-string values pass through untouched.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(value)
	}
	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskSecret(cast)
	case map[string]any:
		return MaskJSON(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item))
		}
		return out
	default:
		return value
	}
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
