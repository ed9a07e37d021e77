package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.EventRelayed("offer")
	m.EventRelayed("offer")
	m.EventDropped(DropReasonProtocolError)

	if got := testutil.ToFloat64(m.EventsRelayed("offer")); got != 2 {
		t.Fatalf("relayed offer=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped(DropReasonProtocolError)); got != 1 {
		t.Fatalf("dropped protocol_error=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped(DropReasonRateLimited)); got != 0 {
		t.Fatalf("dropped rate_limited=%v, want 0", got)
	}
}

func TestRoomAndConnGauges(t *testing.T) {
	m := New()

	m.RoomCreated()
	m.RoomCreated()
	m.RoomDeleted()
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()

	if got := testutil.ToFloat64(m.roomsOpen); got != 1 {
		t.Fatalf("rooms open=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.roomsCreated); got != 2 {
		t.Fatalf("rooms created=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.connectionsOpen); got != 1 {
		t.Fatalf("connections open=%v, want 1", got)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	m := New()
	m.EventRelayed("chat-message")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `kiel_signaling_events_relayed_total{kind="chat-message"} 1`) {
		t.Fatalf("exposition missing relayed counter:\n%s", body)
	}
}

func TestIsolatedRegistries(t *testing.T) {
	// Two instances must not share collectors; New would panic on a shared
	// default registry.
	a, b := New(), New()
	a.EventRelayed("offer")
	if got := testutil.ToFloat64(b.EventsRelayed("offer")); got != 0 {
		t.Fatalf("second instance saw %v, want 0", got)
	}
}
