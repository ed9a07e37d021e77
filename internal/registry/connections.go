package registry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
)

// State is the liveness state of a connection.
type State string

const (
	StateConnected State = "connected"
	StateClosing   State = "closing"
	StateClosed    State = "closed"
)

var (
	// ErrSendQueueFull is returned by a Sink when the peer's bounded outbound
	// queue is full. Callers treat it as that peer's disconnect.
	ErrSendQueueFull = errors.New("send queue full")

	// ErrConnClosed is returned by a Sink once the underlying transport is gone.
	ErrConnClosed = errors.New("connection closed")
)

// Sink delivers one pre-encoded outbound event to the transport behind a
// connection. Implementations must be non-blocking: enqueue to a bounded
// queue and fail fast instead of waiting on a slow peer.
type Sink interface {
	Send(data []byte) error

	// Close tears the underlying transport down so the peer's read and write
	// loops terminate. Must be idempotent.
	Close() error
}

// Conn is the registry's view of one live transport session. The Connections
// registry owns Conn values exclusively; rooms only hold references while the
// connection is a member.
type Conn struct {
	id   string
	name string
	sink Sink

	mu    sync.Mutex
	state State
	room  string
}

func (c *Conn) ID() string { return c.id }

// DisplayName is the client-supplied display identifier. It is used only to
// annotate relayed events and must never be used for authorization.
func (c *Conn) DisplayName() string { return c.name }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the id of the room the connection is currently joined to, or
// "" if unjoined.
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Conn) setRoom(room string) {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

// BeginClose transitions the connection to closing. It returns false if the
// transition already happened, which makes duplicate transport close
// notifications a no-op for callers.
func (c *Conn) BeginClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return false
	}
	c.state = StateClosing
	return true
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

// Send delivers one encoded event through the connection's sink.
func (c *Conn) Send(data []byte) error {
	if c.sink == nil {
		return ErrConnClosed
	}
	return c.sink.Send(data)
}

// Close shuts down the transport behind the connection.
func (c *Conn) Close() error {
	if c.sink == nil {
		return nil
	}
	return c.sink.Close()
}

// Connections is the authoritative mapping from connection handle to live
// connection state.
type Connections struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewConnections() *Connections {
	return &Connections{conns: make(map[string]*Conn)}
}

// Register creates a connected entry for a freshly accepted transport session
// and returns it. The handle is assigned here, never chosen by the client.
func (cs *Connections) Register(name string, sink Sink) *Conn {
	c := &Conn{
		id:    newConnID(),
		name:  name,
		sink:  sink,
		state: StateConnected,
	}
	cs.mu.Lock()
	cs.conns[c.id] = c
	cs.mu.Unlock()
	return c
}

// Lookup returns the connection for a handle, if it is still live.
func (cs *Connections) Lookup(id string) (*Conn, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.conns[id]
	return c, ok
}

// Deregister marks the connection closed and removes the entry. Deregistering
// an unknown handle is a no-op; the transport layer may deliver duplicate
// close events.
func (cs *Connections) Deregister(id string) {
	cs.mu.Lock()
	c, ok := cs.conns[id]
	if ok {
		delete(cs.conns, id)
	}
	cs.mu.Unlock()

	if ok {
		c.markClosed()
	}
}

// Len reports the number of live connections.
func (cs *Connections) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.conns)
}

func newConnID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the process is in no state to accept
		// connections at all.
		panic("registry: generate connection id: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}
