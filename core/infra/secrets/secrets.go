package secrets

import (
	"encoding/json"
	"strings"
)

const (
	secretPrefix = "secret://"
	Redacted     = "<redacted>"
)

// sensitiveKeys are matched case-insensitively against map keys with
// "-" and "_" removed.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"apikey",
	"privatekey",
	"mnemonic",
	"authorization",
}

// IsSensitiveKey reports whether values under key should never leave the
// backend in clear text.
func IsSensitiveKey(key string) bool {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(key))
	for _, s := range sensitiveKeys {
		if strings.Contains(norm, s) {
			return true
		}
	}
	return false
}

// Contains reports whether value holds a secret:// reference or a
// sensitive key.
func Contains(value any) bool {
	_, found := redact(value, false)
	return found
}

// Redact returns a copy of value with credentials replaced by <redacted>.
func Redact(value any) (any, bool) {
	return redact(value, true)
}

// RedactJSON redacts credentials inside a JSON payload. The input is
// returned untouched when nothing needed redacting.
func RedactJSON(data []byte) ([]byte, bool, error) {
	if len(data) == 0 {
		return data, false, nil
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return data, false, err
	}
	redacted, changed := Redact(payload)
	if !changed {
		return data, false, nil
	}
	out, err := json.Marshal(redacted)
	return out, true, err
}

func redact(value any, replace bool) (any, bool) {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(strings.TrimSpace(v), secretPrefix) {
			if replace {
				return Redacted, true
			}
			return v, true
		}
		return v, false
	case map[string]any:
		changed := false
		out := make(map[string]any, len(v))
		for k, child := range v {
			if IsSensitiveKey(k) && child != nil && child != "" {
				changed = true
				if replace {
					out[k] = Redacted
				} else {
					out[k] = child
				}
				continue
			}
			red, childChanged := redact(child, replace)
			changed = changed || childChanged
			out[k] = red
		}
		return out, changed
	case []any:
		changed := false
		out := make([]any, len(v))
		for i, child := range v {
			red, childChanged := redact(child, replace)
			changed = changed || childChanged
			out[i] = red
		}
		return out, changed
	default:
		return v, false
	}
}
