package audit

import (
	"regexp"
	"strings"
)

// Redacted replaces credential material in audit metadata
const Redacted = "[REDACTED]"

// sensitiveKeys are metadata keys whose values are never stored, whatever they contain
var sensitiveKeys = []string{"authorization", "password", "passwd", "secret", "token", "cookie", "api_key", "apikey"}

var credentialPatterns = []*regexp.Regexp{
	// JWT
	regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`),
	// Bearer credentials
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`),
	// AWS access key ID
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	// URLs with embedded credentials
	regexp.MustCompile(`(?i)(postgres|postgresql|mysql|mongodb|redis)://[^\s'"]+:[^\s'"]+@[^\s'"]+`),
	// password=..., token: ...
	regexp.MustCompile(`(?i)(password|passwd|pwd|token|secret)[:\s=]+['"]?[^\s'"&]{8,}['"]?`),
	// PEM private keys
	regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+|EC\s+|OPENSSH\s+)?PRIVATE\s+KEY-----`),
}

// RedactMetadata returns a copy of metadata with credential material replaced.
// Nested maps and slices are walked; non-string scalars are kept as is.
func RedactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if isSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return RedactString(val)
	case map[string]interface{}:
		return RedactMetadata(val)
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, item := range val {
			cp[i] = redactValue(item)
		}
		return cp
	case []string:
		cp := make([]string, len(val))
		for i, item := range val {
			cp[i] = RedactString(item)
		}
		return cp
	default:
		return v
	}
}

// RedactString replaces every credential-looking span in s
func RedactString(s string) string {
	for _, p := range credentialPatterns {
		s = p.ReplaceAllString(s, Redacted)
	}
	return s
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
