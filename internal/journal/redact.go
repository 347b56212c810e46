package journal

import (
	"regexp"
	"strings"
)

// sensitiveKeyFragments matches any payload key whose lowercased name
// contains one of these substrings: auth/token/password/secret tokens,
// api keys, and database connection strings.
var sensitiveKeyFragments = []string{
	"password", "passwd", "secret", "token", "authorization",
	"api_key", "apikey", "private_key", "credential", "db_url",
	"database_url", "connection_string",
}

var cloudKeyPrefix = regexp.MustCompile(`^(sk-|AKIA|ghp_|AIza)`)

const redactedPlaceholder = "[REDACTED]"

// Redact returns a copy of payload with sensitive values masked. It
// recurses into nested maps so a payload like {"config": {"db_password":
// "..."}} is fully scrubbed, not just its top level.
func Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch {
		case isSensitiveKey(k):
			out[k] = redactedPlaceholder
		case looksLikeSecretValue(v):
			out[k] = redactedPlaceholder
		default:
			out[k] = redactValue(v)
		}
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Redact(t)
	case []any:
		redacted := make([]any, len(t))
		for i, item := range t {
			if m, ok := item.(map[string]any); ok {
				redacted[i] = Redact(m)
			} else {
				redacted[i] = item
			}
		}
		return redacted
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func looksLikeSecretValue(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return cloudKeyPrefix.MatchString(s)
}
