package registry

import (
	"sync"
	"time"
)

// Room holds the ordered-by-join-time member set for one room id. Member
// order matters only for reproducible tests; callers must not rely on it.
type Room struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	members   []*Conn
}

func (r *Room) indexLocked(c *Conn) int {
	for i, m := range r.members {
		if m == c {
			return i
		}
	}
	return -1
}

// JoinResult reports the outcome of a Join call.
type JoinResult struct {
	// FirstMember is true when the join created the room.
	FirstMember bool

	// AlreadyMember is true when the connection was already in the room; the
	// join was a no-op apart from this report.
	AlreadyMember bool

	// MemberCount is the room's membership after the join.
	MemberCount int

	// AnnounceFailed lists members whose announce delivery failed. The caller
	// is expected to run disconnect handling for them.
	AnnounceFailed []*Conn
}

// LeaveResult reports the outcome of a Leave call.
type LeaveResult struct {
	// Deleted is true when the departing connection was the last member and
	// the room was removed.
	Deleted bool

	// MemberCount is the room's membership after the leave.
	MemberCount int

	AnnounceFailed []*Conn
}

// Rooms maps room ids to member sets. All membership mutation goes through
// Join/Leave; mutations for a given room are serialized by that room's lock
// while distinct rooms mutate independently.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*Room)}
}

// Join adds the connection to the room, creating the room if absent. Joining
// a room the connection is already a member of is an idempotent no-op that
// still reports current membership.
//
// If announce is non-nil it is delivered to every existing member while the
// room's lock is held, so later broadcasts observing the new member cannot
// overtake the membership notification in any member's queue.
//
// Callers must remove the connection from any previous room first; a
// connection belongs to at most one room.
func (rs *Rooms) Join(roomID string, c *Conn, announce []byte) JoinResult {
	rs.mu.Lock()
	room := rs.rooms[roomID]
	created := false
	if room == nil {
		room = &Room{id: roomID, createdAt: time.Now()}
		rs.rooms[roomID] = room
		created = true
	}
	room.mu.Lock()
	rs.mu.Unlock()
	defer room.mu.Unlock()

	if room.indexLocked(c) >= 0 {
		return JoinResult{AlreadyMember: true, MemberCount: len(room.members)}
	}

	var failed []*Conn
	if announce != nil {
		for _, m := range room.members {
			if err := m.Send(announce); err != nil {
				failed = append(failed, m)
			}
		}
	}

	room.members = append(room.members, c)
	c.setRoom(roomID)

	return JoinResult{
		FirstMember:    created,
		MemberCount:    len(room.members),
		AnnounceFailed: failed,
	}
}

// Leave removes the connection from the room. If the member set becomes
// empty the room is deleted synchronously. Leaving a room the connection is
// not a member of, or an unknown room id, is a no-op reported via ok=false;
// clients may race leave against disconnect.
//
// If announce is non-nil it is delivered to the remaining members while the
// room's lock is held.
func (rs *Rooms) Leave(roomID string, c *Conn, announce []byte) (LeaveResult, bool) {
	rs.mu.Lock()
	room := rs.rooms[roomID]
	if room == nil {
		rs.mu.Unlock()
		return LeaveResult{}, false
	}
	room.mu.Lock()

	i := room.indexLocked(c)
	if i < 0 {
		room.mu.Unlock()
		rs.mu.Unlock()
		return LeaveResult{}, false
	}

	room.members = append(room.members[:i], room.members[i+1:]...)
	c.setRoom("")

	deleted := len(room.members) == 0
	if deleted {
		delete(rs.rooms, roomID)
	}
	rs.mu.Unlock()

	var failed []*Conn
	if announce != nil {
		for _, m := range room.members {
			if err := m.Send(announce); err != nil {
				failed = append(failed, m)
			}
		}
	}

	res := LeaveResult{
		Deleted:        deleted,
		MemberCount:    len(room.members),
		AnnounceFailed: failed,
	}
	room.mu.Unlock()
	return res, true
}

// MembersExcept returns all current members other than except. It returns an
// empty slice for an unknown room; this runs once per relayed message, so it
// stays a plain snapshot copy.
func (rs *Rooms) MembersExcept(roomID string, except *Conn) []*Conn {
	rs.mu.RLock()
	room := rs.rooms[roomID]
	rs.mu.RUnlock()
	if room == nil {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	out := make([]*Conn, 0, len(room.members))
	for _, m := range room.members {
		if m != except {
			out = append(out, m)
		}
	}
	return out
}

// Members returns a snapshot of the room's member set in join order.
func (rs *Rooms) Members(roomID string) []*Conn {
	return rs.MembersExcept(roomID, nil)
}

// Count reports the number of live rooms.
func (rs *Rooms) Count() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rooms)
}
