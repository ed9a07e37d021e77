package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hiraete/kiel-app-sub000/internal/metrics"
	"github.com/Hiraete/kiel-app-sub000/internal/ratelimit"
	"github.com/Hiraete/kiel-app-sub000/internal/registry"
	"github.com/Hiraete/kiel-app-sub000/internal/relay"
)

// session runs one signaling connection: a read loop in the caller's
// goroutine and a write pump draining the bounded outbound queue.
type session struct {
	srv  *Server
	ws   *websocket.Conn
	conn *registry.Conn

	limiter *ratelimit.TokenBucket

	out  chan []byte
	stop chan struct{}

	mu     sync.Mutex
	closed bool

	// closeCode is the close frame status sent on shutdown. Written only by
	// the read loop before it returns.
	closeCode int

	once sync.Once
}

func newSession(s *Server, ws *websocket.Conn, name string) *session {
	sess := &session{
		srv: s,
		ws:  ws,
		limiter: ratelimit.NewTokenBucket(ratelimit.RealClock{},
			int64(s.cfg.MaxMessagesPerSecond), int64(s.cfg.MaxMessagesPerSecond)),
		out:       make(chan []byte, s.cfg.SendQueueDepth),
		stop:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
	sess.conn = s.relay.Accept(name, sess)
	return sess
}

// Send implements registry.Sink. It enqueues without blocking: a full queue
// means the peer is too slow to keep up and is reported as a failed
// delivery, which the relay treats as that peer's disconnect.
func (sess *session) Send(data []byte) error {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return registry.ErrConnClosed
	}
	sess.mu.Unlock()

	select {
	case sess.out <- data:
		return nil
	default:
		return registry.ErrSendQueueFull
	}
}

// Close implements registry.Sink. Stopping the write pump sends the close
// frame and closes the websocket, which in turn unblocks the read loop.
func (sess *session) Close() error {
	sess.shutdown()
	return nil
}

func (sess *session) run(ctx context.Context) {
	go sess.writePump()
	sess.readLoop(ctx)

	// Read loop exit is the transport close notification; run departure
	// handling exactly once and tear the socket down.
	sess.srv.relay.Disconnect(sess.conn)
	sess.shutdown()
}

func (sess *session) readLoop(ctx context.Context) {
	cfg := sess.srv.cfg

	sess.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = sess.ws.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))
	sess.ws.SetPongHandler(func(string) error {
		return sess.ws.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))
	})

	for {
		_, data, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.srv.log.Debug("signaling read failed", "conn", sess.conn.ID(), "err", err)
			}
			return
		}
		_ = sess.ws.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))

		if !sess.limiter.Allow(1) {
			// The error event is queued ahead of the close frame so the client
			// learns why it was dropped.
			sess.srv.relay.Metrics().EventDropped(metrics.DropReasonRateLimited)
			sess.sendControlError("rate_limited", "signaling message rate limit exceeded")
			sess.closeCode = websocket.ClosePolicyViolation
			return
		}

		evt, err := relay.ParseEvent(data)
		if err != nil {
			// Protocol errors drop the message but keep the connection: the
			// client may simply be a version ahead or behind.
			sess.srv.relay.Metrics().EventDropped(metrics.DropReasonProtocolError)
			sess.srv.log.Warn("dropping malformed event", "conn", sess.conn.ID(), "err", err)
			sess.sendControlError("bad_message", err.Error())
			continue
		}

		sess.srv.relay.HandleEvent(ctx, sess.conn, evt)
	}
}

func (sess *session) writePump() {
	ticker := time.NewTicker(sess.srv.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		sess.markClosed()
		_ = sess.ws.Close()
	}()

	for {
		select {
		case data := <-sess.out:
			_ = sess.ws.SetWriteDeadline(time.Now().Add(sess.srv.cfg.WSWriteTimeout))
			if err := sess.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.ws.SetWriteDeadline(time.Now().Add(sess.srv.cfg.WSWriteTimeout))
			if err := sess.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.stop:
			// Flush anything already queued (an error event, typically) before
			// the close frame.
			for {
				select {
				case data := <-sess.out:
					_ = sess.ws.SetWriteDeadline(time.Now().Add(sess.srv.cfg.WSWriteTimeout))
					if err := sess.ws.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = sess.ws.SetWriteDeadline(time.Now().Add(sess.srv.cfg.WSWriteTimeout))
					_ = sess.ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(sess.closeCode, ""))
					return
				}
			}
		}
	}
}

// sendControlError pushes a single error event back to this connection.
// Best effort; the sender may already be gone.
func (sess *session) sendControlError(code, message string) {
	_ = sess.Send(relay.ErrorEvent(code, message).Encode())
}

func (sess *session) markClosed() {
	sess.mu.Lock()
	sess.closed = true
	sess.mu.Unlock()
}

func (sess *session) shutdown() {
	sess.once.Do(func() {
		sess.markClosed()
		close(sess.stop)
	})
}
