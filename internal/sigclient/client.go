// Package sigclient is a Go client for the call-signaling relay protocol.
// It backs the roomprobe tool and the end-to-end tests; browsers speak the
// same wire format from their own WebSocket stacks.
package sigclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hiraete/kiel-app-sub000/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Options configure a Dial. The zero value is usable.
type Options struct {
	// Name is the display identifier announced to chat and membership events.
	Name string

	// Token is a signed identity token; when set it takes the place of Name.
	Token string
}

// Client is one signaling connection. Events received from the relay are
// delivered on the Events channel, which closes when the connection dies.
type Client struct {
	ws *websocket.Conn

	events chan relay.Event
	out    chan []byte
	done   chan struct{}

	closeOnce sync.Once

	mu      sync.Mutex
	readErr error
}

// Dial connects to a relay at rawURL (ws:// or wss://, including the /ws
// path) and starts the read and write pumps.
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	if opts.Name != "" {
		q.Set("name", opts.Name)
	}
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		ws:     ws,
		events: make(chan relay.Event, 16),
		out:    make(chan []byte, 16),
		done:   make(chan struct{}),
	}

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Events streams everything the relay sends: acks, relayed events, peer
// membership notifications and error events.
func (c *Client) Events() <-chan relay.Event {
	return c.events
}

// Err reports why the read side stopped, once Events has closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Join asks to join roomID. The relay answers with a join ack carrying the
// current member count.
func (c *Client) Join(roomID string) error {
	return c.send(relay.Event{Kind: relay.KindJoin, RoomID: roomID})
}

// Leave departs roomID; the connection stays open for a later join.
func (c *Client) Leave(roomID string) error {
	return c.send(relay.Event{Kind: relay.KindLeave, RoomID: roomID})
}

// SendOffer relays an SDP offer to the other members of roomID.
func (c *Client) SendOffer(roomID string, sdp json.RawMessage) error {
	return c.send(relay.Event{Kind: relay.KindOffer, RoomID: roomID, Payload: sdp})
}

// SendAnswer relays an SDP answer to the other members of roomID.
func (c *Client) SendAnswer(roomID string, sdp json.RawMessage) error {
	return c.send(relay.Event{Kind: relay.KindAnswer, RoomID: roomID, Payload: sdp})
}

// SendCandidate relays one ICE candidate to the other members of roomID.
func (c *Client) SendCandidate(roomID string, candidate json.RawMessage) error {
	return c.send(relay.Event{Kind: relay.KindICECandidate, RoomID: roomID, Payload: candidate})
}

// SendChat relays a chat line to the other members of roomID.
func (c *Client) SendChat(roomID, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	return c.send(relay.Event{Kind: relay.KindChatMessage, RoomID: roomID, Payload: payload})
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *Client) send(evt relay.Event) error {
	data := evt.Encode()
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("client closed")
	}
}

func (c *Client) readPump() {
	defer func() {
		_ = c.ws.Close()
		close(c.events)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var evt relay.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			// An unparseable server event is a relay bug, not ours; skip it.
			continue
		}

		select {
		case c.events <- evt:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
