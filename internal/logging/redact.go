package logging

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-kit/log"
)

// sensitiveKeys are log field names whose value is always replaced outright,
// regardless of its shape.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"pwd":           {},
	"pwd_hash":      {},
	"credential":    {},
	"credentialhash": {},
	"token":         {},
	"jwt":           {},
	"session_key":   {},
	"sessionkey":    {},
	"key":           {},
	"salt":          {},
	"cipher":        {},
	"ciphertext":    {},
}

const redacted = "****"

// blobPattern matches long runs of hex or base64 characters: session keys,
// IVs, encrypted command blobs, and JWTs all take this shape on the wire,
// wherever they end up embedded inside a free-form string value (e.g. a
// logged command string or raw response body) rather than under one of
// sensitiveKeys.
var blobPattern = regexp.MustCompile(`[A-Za-z0-9+/_=.-]{24,}`)

// redact wraps logger so that every Log call scrubs secret-shaped values
// before they reach the sink: spec.md §7 requires passwords, tokens, and
// cipher blobs never appear in log output.
func redact(logger log.Logger) log.Logger {
	return log.LoggerFunc(func(keyvals ...interface{}) error {
		return logger.Log(sanitizeKeyvals(keyvals)...)
	})
}

func sanitizeKeyvals(keyvals []interface{}) []interface{} {
	out := make([]interface{}, len(keyvals))
	copy(out, keyvals)
	for i := 0; i+1 < len(out); i += 2 {
		key := fmt.Sprint(out[i])
		if _, sensitive := sensitiveKeys[strings.ToLower(key)]; sensitive {
			out[i+1] = redacted
			continue
		}
		if s, ok := out[i+1].(string); ok {
			out[i+1] = blobPattern.ReplaceAllString(s, redacted)
		}
	}
	return out
}
