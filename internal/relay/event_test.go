package relay

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseEvent_Valid(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"kind":"offer","roomId":"r1","payload":{"sdp":"v=0"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Kind != KindOffer || evt.RoomID != "r1" {
		t.Fatalf("parsed kind=%q room=%q, want offer/r1", evt.Kind, evt.RoomID)
	}
	if string(evt.Payload) != `{"sdp":"v=0"}` {
		t.Fatalf("payload=%s, want the raw blob untouched", evt.Payload)
	}
}

func TestParseEvent_PayloadStaysOpaque(t *testing.T) {
	// The relay must not interpret payloads; any JSON value passes through.
	for _, payload := range []string{`"plain string"`, `42`, `[1,2,3]`, `{"nested":{"deep":true}}`, `null`} {
		raw := []byte(`{"kind":"chat-message","roomId":"r1","payload":` + payload + `}`)
		evt, err := ParseEvent(raw)
		if err != nil {
			t.Fatalf("payload %s: unexpected error: %v", payload, err)
		}
		if payload == "null" {
			continue // encoding/json folds null into an absent RawMessage
		}
		if string(evt.Payload) != payload {
			t.Fatalf("payload %s round-tripped to %s", payload, evt.Payload)
		}
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `not json at all`},
		{"trailing data", `{"kind":"join","roomId":"r1"}{"kind":"leave"}`},
		{"unknown field", `{"kind":"join","roomId":"r1","bogus":true}`},
		{"missing kind", `{"roomId":"r1"}`},
		{"unknown kind", `{"kind":"teleport","roomId":"r1"}`},
		{"missing room", `{"kind":"offer"}`},
		{"server kind peer-joined", `{"kind":"peer-joined","roomId":"r1"}`},
		{"server kind peer-left", `{"kind":"peer-left","roomId":"r1"}`},
		{"server kind error", `{"kind":"error","code":"x"}`},
		{"error fields on client kind", `{"kind":"join","roomId":"r1","code":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEvent([]byte(tt.raw)); err == nil {
				t.Fatalf("expected parse of %s to fail", tt.raw)
			}
		})
	}
}

func TestEncode_RoundTrips(t *testing.T) {
	evt := Event{
		Kind:    KindChatMessage,
		RoomID:  "r1",
		Payload: json.RawMessage(`{"text":"hi"}`),
		From:    "conn-1",
	}
	data := evt.Encode()

	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != evt.Kind || got.RoomID != evt.RoomID || got.From != evt.From {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestEncode_OmitsEmptyFields(t *testing.T) {
	data := Event{Kind: KindPeerLeft, RoomID: "r1", From: "conn-1"}.Encode()
	for _, field := range []string{"payload", "fromName", "code", "message"} {
		if strings.Contains(string(data), field) {
			t.Fatalf("encoded event %s should omit empty %q", data, field)
		}
	}
}

func TestErrorEvent(t *testing.T) {
	evt := ErrorEvent("bad_message", "no kind")
	if evt.Kind != KindError || evt.Code != "bad_message" || evt.Message != "no kind" {
		t.Fatalf("unexpected error event: %+v", evt)
	}
}
