package signaling

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hiraete/kiel-app-sub000/internal/config"
	"github.com/Hiraete/kiel-app-sub000/internal/relay"
	"github.com/Hiraete/kiel-app-sub000/internal/sigclient"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:           "127.0.0.1:0",
		Mode:                 config.ModeDev,
		WSIdleTimeout:        config.DefaultWSIdleTimeout,
		WSPingInterval:       config.DefaultWSPingInterval,
		WSWriteTimeout:       config.DefaultWSWriteTimeout,
		MaxMessageBytes:      config.DefaultMaxMessageBytes,
		MaxMessagesPerSecond: config.DefaultMaxMessagesPerSecond,
		SendQueueDepth:       config.DefaultSendQueueDepth,
	}
}

func startTestRelay(t *testing.T, cfg config.Config) (*httptest.Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rly := relay.New(relay.Config{Logger: logger})
	srv := NewServer(cfg, logger, rly)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialClient(t *testing.T, url, name string) *sigclient.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := sigclient.Dial(ctx, url, sigclient.Options{Name: name})
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// nextEvent waits for the next event of the given kind, failing the test on
// timeout or channel close. Events of other kinds are skipped; pings and
// ordering between unrelated kinds are not what these tests assert.
func nextEvent(t *testing.T, c *sigclient.Client, kind relay.Kind) relay.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-c.Events():
			if !ok {
				t.Fatalf("connection closed while waiting for %q", kind)
			}
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", kind)
		}
	}
}

func TestSignaling_TwoPartyExchange(t *testing.T) {
	_, url := startTestRelay(t, testConfig())

	alice := dialClient(t, url, "alice")
	bob := dialClient(t, url, "bob")

	if err := alice.Join("call-1"); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	ack := nextEvent(t, alice, relay.KindJoin)
	var body struct {
		Members int `json:"members"`
	}
	if err := json.Unmarshal(ack.Payload, &body); err != nil || body.Members != 1 {
		t.Fatalf("join ack payload=%s err=%v, want members:1", ack.Payload, err)
	}

	if err := bob.Join("call-1"); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	joined := nextEvent(t, alice, relay.KindPeerJoined)
	if joined.FromName != "bob" {
		t.Fatalf("peer-joined fromName=%q, want bob", joined.FromName)
	}
	nextEvent(t, bob, relay.KindJoin)

	if err := alice.SendOffer("call-1", json.RawMessage(`{"sdp":"v=0 offer"}`)); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	offer := nextEvent(t, bob, relay.KindOffer)
	if string(offer.Payload) != `{"sdp":"v=0 offer"}` {
		t.Fatalf("offer payload=%s, want verbatim relay", offer.Payload)
	}
	if offer.From == "" {
		t.Fatalf("offer missing sender handle")
	}

	if err := bob.SendAnswer("call-1", json.RawMessage(`{"sdp":"v=0 answer"}`)); err != nil {
		t.Fatalf("send answer: %v", err)
	}
	nextEvent(t, alice, relay.KindAnswer)

	if err := bob.SendChat("call-1", "hello"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	chat := nextEvent(t, alice, relay.KindChatMessage)
	if chat.FromName != "bob" {
		t.Fatalf("chat fromName=%q, want bob", chat.FromName)
	}

	// Bob leaving notifies alice but keeps his own connection usable.
	if err := bob.Leave("call-1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	left := nextEvent(t, alice, relay.KindPeerLeft)
	if left.From != offer.From && left.From != chat.From {
		t.Fatalf("peer-left from=%q, want bob's handle", left.From)
	}
	nextEvent(t, bob, relay.KindLeave)

	if err := bob.Join("call-2"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	nextEvent(t, bob, relay.KindJoin)
}

func TestSignaling_DisconnectAnnouncesDeparture(t *testing.T) {
	_, url := startTestRelay(t, testConfig())

	alice := dialClient(t, url, "alice")
	bob := dialClient(t, url, "bob")

	alice.Join("call-1")
	nextEvent(t, alice, relay.KindJoin)
	bob.Join("call-1")
	nextEvent(t, bob, relay.KindJoin)
	nextEvent(t, alice, relay.KindPeerJoined)

	bob.Close()

	if evt := nextEvent(t, alice, relay.KindPeerLeft); evt.RoomID != "call-1" {
		t.Fatalf("peer-left room=%q, want call-1", evt.RoomID)
	}
}

func TestSignaling_MalformedMessageKeepsConnection(t *testing.T) {
	_, url := startTestRelay(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"kind":"teleport"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read error event: %v", err)
	}
	var evt relay.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if evt.Kind != relay.KindError || evt.Code != "bad_message" {
		t.Fatalf("got %+v, want a bad_message error event", evt)
	}

	// The same connection still works afterwards.
	join := relay.Event{Kind: relay.KindJoin, RoomID: "r1"}
	if err := ws.WriteMessage(websocket.TextMessage, join.Encode()); err != nil {
		t.Fatalf("write join: %v", err)
	}
	if _, data, err = ws.ReadMessage(); err != nil {
		t.Fatalf("read join ack: %v", err)
	}
	if err := json.Unmarshal(data, &evt); err != nil || evt.Kind != relay.KindJoin {
		t.Fatalf("got %s, want a join ack", data)
	}
}

func TestSignaling_RateLimitClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessagesPerSecond = 1
	_, url := startTestRelay(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// One token in the bucket: the second immediate message trips the limit.
	join := relay.Event{Kind: relay.KindJoin, RoomID: "r1"}.Encode()
	for i := 0; i < 2; i++ {
		if err := ws.WriteMessage(websocket.TextMessage, join); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	sawRateLimited := false
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break // server closed us, as expected
		}
		var evt relay.Event
		if json.Unmarshal(data, &evt) == nil && evt.Kind == relay.KindError && evt.Code == "rate_limited" {
			sawRateLimited = true
		}
	}
	if !sawRateLimited {
		t.Fatalf("expected a rate_limited error event before the close")
	}
}

func TestSignaling_OversizedMessageDisconnects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageBytes = 256
	_, url := startTestRelay(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	big := relay.Event{
		Kind:    relay.KindJoin,
		RoomID:  "r1",
		Payload: json.RawMessage(`"` + strings.Repeat("x", 1024) + `"`),
	}
	if err := ws.WriteMessage(websocket.TextMessage, big.Encode()); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return // connection torn down by the read limit
		}
	}
}
