// Package relay implements the room-scoped signaling relay: a stateless
// dispatcher that fans inbound events out to the sender's room peers, plus
// the per-connection lifecycle handling around it.
package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Hiraete/kiel-app-sub000/internal/metrics"
	"github.com/Hiraete/kiel-app-sub000/internal/registry"
)

// Bus distributes relayed events to other relay instances. Optional; a nil
// Bus keeps all fan-out process-local.
type Bus interface {
	Publish(ctx context.Context, roomID string, event []byte) error
}

// Config wires together the relay's runtime dependencies.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Bus     Bus
}

// Relay owns the connection and room registries and applies the protocol's
// fan-out rules. It never inspects payload contents.
type Relay struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	bus     Bus

	conns *registry.Connections
	rooms *registry.Rooms
}

func New(cfg Config) *Relay {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Relay{
		log:     log,
		metrics: m,
		bus:     cfg.Bus,
		conns:   registry.NewConnections(),
		rooms:   registry.NewRooms(),
	}
}

func (r *Relay) Connections() *registry.Connections { return r.conns }
func (r *Relay) Rooms() *registry.Rooms             { return r.rooms }
func (r *Relay) Metrics() *metrics.Metrics          { return r.metrics }

// Accept registers a freshly accepted transport session. Never fails.
func (r *Relay) Accept(name string, sink registry.Sink) *registry.Conn {
	c := r.conns.Register(name, sink)
	r.metrics.ConnOpened()
	r.log.Info("connection registered", "conn", c.ID(), "name", name)
	return c
}

// HandleEvent dispatches one validated inbound event from c. Events from a
// connection the registry no longer knows as connected are dropped: a peer
// torn down after a failed delivery may still have messages in flight on its
// transport, and a join from it must not re-admit a closed connection.
func (r *Relay) HandleEvent(ctx context.Context, c *registry.Conn, evt Event) {
	if live, ok := r.conns.Lookup(c.ID()); !ok || live != c || c.State() != registry.StateConnected {
		r.log.Debug("dropping event from defunct connection", "kind", evt.Kind, "conn", c.ID())
		return
	}

	switch {
	case evt.Kind == KindJoin:
		r.handleJoin(ctx, c, evt)
	case evt.Kind == KindLeave:
		r.handleLeave(ctx, c, evt)
	case evt.Kind.relayed():
		r.relayToRoom(ctx, c, evt)
	default:
		// ParseEvent rejects everything else; getting here is a bug.
		r.log.Error("unroutable event kind", "kind", evt.Kind, "conn", c.ID())
	}
}

func (r *Relay) handleJoin(ctx context.Context, c *registry.Conn, evt Event) {
	// A connection belongs to at most one room: joining while a member of a
	// different room first applies the usual leave semantics there.
	if prev := c.Room(); prev != "" && prev != evt.RoomID {
		r.departRoom(ctx, c, prev)
	}

	announce := Event{
		Kind:     KindPeerJoined,
		RoomID:   evt.RoomID,
		From:     c.ID(),
		FromName: c.DisplayName(),
	}.Encode()

	res := r.rooms.Join(evt.RoomID, c, announce)
	if res.FirstMember {
		r.metrics.RoomCreated()
		r.log.Info("room created", "room", evt.RoomID, "conn", c.ID())
	}
	for _, m := range res.AnnounceFailed {
		r.onDeliveryFailure(m)
	}
	if !res.FirstMember && !res.AlreadyMember {
		r.metrics.EventRelayed(string(KindPeerJoined))
		r.publish(ctx, evt.RoomID, announce)
	}

	// Ack to the joiner only, reporting current membership.
	ack := Event{
		Kind:    KindJoin,
		RoomID:  evt.RoomID,
		From:    c.ID(),
		Payload: []byte(fmt.Sprintf(`{"members":%d}`, res.MemberCount)),
	}
	if err := c.Send(ack.Encode()); err != nil {
		r.onDeliveryFailure(c)
	}
}

func (r *Relay) handleLeave(ctx context.Context, c *registry.Conn, evt Event) {
	r.departRoom(ctx, c, evt.RoomID)

	// The connection stays registered and may join another room later.
	if err := c.Send(Event{Kind: KindLeave, RoomID: evt.RoomID, From: c.ID()}.Encode()); err != nil {
		r.onDeliveryFailure(c)
	}
}

// departRoom removes c from roomID and announces the departure to any
// remaining members. A no-op when c is not a member; leave/disconnect races
// are expected, not exceptional.
func (r *Relay) departRoom(ctx context.Context, c *registry.Conn, roomID string) {
	announce := Event{
		Kind:     KindPeerLeft,
		RoomID:   roomID,
		From:     c.ID(),
		FromName: c.DisplayName(),
	}.Encode()

	res, ok := r.rooms.Leave(roomID, c, announce)
	if !ok {
		return
	}
	if res.Deleted {
		r.metrics.RoomDeleted()
		r.log.Info("room deleted", "room", roomID)
		return
	}
	for _, m := range res.AnnounceFailed {
		r.onDeliveryFailure(m)
	}
	r.metrics.EventRelayed(string(KindPeerLeft))
	r.publish(ctx, roomID, announce)
}

func (r *Relay) relayToRoom(ctx context.Context, c *registry.Conn, evt Event) {
	// Reject events naming a room the sender is not a member of. A client that
	// was moved between rooms may still send a stale room id; forwarding it
	// would leak into the wrong room.
	if c.Room() != evt.RoomID {
		r.metrics.EventDropped(metrics.DropReasonNotMember)
		r.log.Warn("dropping event from non-member",
			"kind", evt.Kind, "room", evt.RoomID, "conn", c.ID())
		return
	}

	evt.From = c.ID()
	evt.FromName = ""
	if evt.Kind == KindChatMessage {
		evt.FromName = c.DisplayName()
	}
	data := evt.Encode()

	for _, target := range r.rooms.MembersExcept(evt.RoomID, c) {
		if err := target.Send(data); err != nil {
			// Failed delivery means the target is effectively gone. Its
			// departure must not abort fan-out to the remaining targets.
			r.metrics.EventDropped(metrics.DropReasonDelivery)
			r.log.Warn("delivery failed, treating target as disconnected",
				"kind", evt.Kind, "room", evt.RoomID, "target", target.ID(), "err", err)
			r.onDeliveryFailure(target)
		}
	}
	r.metrics.EventRelayed(string(evt.Kind))
	r.publish(ctx, evt.RoomID, data)
}

// Disconnect runs departure handling for a transport close. Safe to call
// multiple times for the same connection; only the first call has effects.
func (r *Relay) Disconnect(c *registry.Conn) {
	if c == nil || !c.BeginClose() {
		return
	}
	if room := c.Room(); room != "" {
		r.departRoom(context.Background(), c, room)
	}
	r.conns.Deregister(c.ID())
	// Tear the transport down too, so a peer evicted for slow delivery does
	// not keep its socket and pumps alive.
	_ = c.Close()
	r.metrics.ConnClosed()
	r.log.Info("connection closed", "conn", c.ID())
}

// onDeliveryFailure is Disconnect for targets whose transport write failed.
func (r *Relay) onDeliveryFailure(c *registry.Conn) {
	r.Disconnect(c)
}

// DeliverLocal fans an event received from the bus out to every local member
// of the room. The original sender lives on another instance, so nobody is
// excluded here.
func (r *Relay) DeliverLocal(roomID string, data []byte) {
	for _, m := range r.rooms.Members(roomID) {
		if err := m.Send(data); err != nil {
			r.metrics.EventDropped(metrics.DropReasonDelivery)
			r.onDeliveryFailure(m)
		}
	}
}

func (r *Relay) publish(ctx context.Context, roomID string, data []byte) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, roomID, data); err != nil {
		r.log.Warn("bus publish failed", "room", roomID, "err", err)
	}
}
