package bus

import (
	"encoding/json"
	"testing"
)

func TestMessage_RoundTrip(t *testing.T) {
	m := Message{
		Origin: "instance-a",
		RoomID: "room-1",
		Event:  json.RawMessage(`{"kind":"offer","roomId":"room-1"}`),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Origin != m.Origin || got.RoomID != m.RoomID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if string(got.Event) != string(m.Event) {
		t.Fatalf("event blob=%s, want verbatim", got.Event)
	}
}

func TestAccept_FiltersOwnOrigin(t *testing.T) {
	b := &Redis{origin: "me"}

	if b.Accept(Message{Origin: "me", RoomID: "room-1"}) {
		t.Fatalf("expected own messages to be skipped")
	}
	if !b.Accept(Message{Origin: "other", RoomID: "room-1"}) {
		t.Fatalf("expected foreign messages to be accepted")
	}
	if b.Accept(Message{Origin: "other"}) {
		t.Fatalf("expected messages without a room to be skipped")
	}
}

func TestChannelNaming(t *testing.T) {
	b := &Redis{prefix: "kiel:signaling:room:"}
	if got := b.channel("r1"); got != "kiel:signaling:room:r1" {
		t.Fatalf("channel=%q", got)
	}
	if got := b.channel("*"); got != "kiel:signaling:room:*" {
		t.Fatalf("pattern=%q", got)
	}
}

func TestNewOriginIsUnique(t *testing.T) {
	if newOrigin() == newOrigin() {
		t.Fatalf("expected distinct origin ids")
	}
}
