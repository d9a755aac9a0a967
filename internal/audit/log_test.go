package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.SetOutput(&buf)
	defer obs.SetOutput(prev)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{
		Identity: auth.Identity{ID: "id-42"},
		Profile:  &auth.Profile{ID: "p-42", FirmID: "f-1", Role: auth.RoleFirmAdmin},
	})

	if err := LogEvent(ctx, "firm.update", map[string]any{"firm_id": "f-1"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["type"] != "audit" || entry["event"] != "firm.update" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["identity_id"] != "id-42" || entry["role"] != "firm_admin" || entry["firm_id"] != "f-1" {
		t.Fatalf("principal fields missing: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["firm_id"] != "f-1" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatalf("expected error for empty event")
	}
}
