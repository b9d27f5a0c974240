package secrets

import (
	"encoding/json"
	"testing"
)

func TestIsSensitiveKey(t *testing.T) {
	for _, key := range []string{"apiKey", "api_key", "PRIVATE-KEY", "password", "accessToken", "Authorization"} {
		if !IsSensitiveKey(key) {
			t.Fatalf("expected %q to be sensitive", key)
		}
	}
	for _, key := range []string{"url", "prompt", "network", "to"} {
		if IsSensitiveKey(key) {
			t.Fatalf("expected %q to be plain", key)
		}
	}
}

func TestRedactNodeData(t *testing.T) {
	payload := map[string]any{
		"node": map[string]any{
			"id":   "w1",
			"type": "web3",
			"data": map[string]any{
				"network":    "sepolia",
				"privateKey": "0xabc",
				"headers":    []any{"ok", "secret://vault/header"},
			},
		},
	}
	if !Contains(payload) {
		t.Fatalf("expected credentials to be detected")
	}
	out, changed := Redact(payload)
	if !changed {
		t.Fatalf("expected redaction to report changes")
	}
	data := out.(map[string]any)["node"].(map[string]any)["data"].(map[string]any)
	if data["privateKey"] != Redacted {
		t.Fatalf("expected private key redacted, got %v", data["privateKey"])
	}
	if data["network"] != "sepolia" {
		t.Fatalf("expected plain field kept, got %v", data["network"])
	}
	if data["headers"].([]any)[1] != Redacted {
		t.Fatalf("expected secret ref redacted, got %v", data["headers"])
	}
	// the input is not mutated
	orig := payload["node"].(map[string]any)["data"].(map[string]any)
	if orig["privateKey"] != "0xabc" {
		t.Fatalf("input mutated")
	}
}

func TestRedactKeepsEmptySensitiveValues(t *testing.T) {
	_, changed := Redact(map[string]any{"token": ""})
	if changed {
		t.Fatalf("expected empty credential to be left alone")
	}
}

func TestRedactJSON(t *testing.T) {
	input := []byte(`{"apiKey":"sk-123","ok":"value"}`)
	out, changed, err := RedactJSON(input)
	if err != nil {
		t.Fatalf("redact json: %v", err)
	}
	if !changed {
		t.Fatalf("expected redaction to report changes")
	}
	var got map[string]string
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["apiKey"] != Redacted || got["ok"] != "value" {
		t.Fatalf("unexpected redacted payload %s", out)
	}

	unchanged, changed, err := RedactJSON([]byte(`{"ok":"value"}`))
	if err != nil {
		t.Fatalf("redact json: %v", err)
	}
	if changed || string(unchanged) != `{"ok":"value"}` {
		t.Fatalf("unexpected unchanged payload: %s", unchanged)
	}
}

func TestRedactJSONInvalid(t *testing.T) {
	if _, _, err := RedactJSON([]byte("{bad-json")); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
