// Package room implements the Room/RoomGroup fan-out fabric
// and the Client connection it fans out to. Lock order throughout is
// RoomGroup → Room → Client, and broadcasts never take a client's lock,
// only push onto its thread-safe send queue, so a slow
// reader can never stall a broadcast to the rest of the room.
package room

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/instant-chat/instant/internal/envelope"
	"github.com/instant-chat/instant/internal/idallocator"
	"github.com/instant-chat/instant/internal/metrics"
)

// ErrNullRoomBroadcast is returned by Broadcast on the null room, the
// singleton that unrouted connections belong to; it carries no broadcast
// channel, only unicast-addressable membership.
var ErrNullRoomBroadcast = errors.New("room: broadcast not permitted on the null room")

// Presence is a single row of a room snapshot.
type Presence struct {
	UID  string `json:"uid"`
	Nick string `json:"nick"`
}

// Room is a named set of connected clients sharing a broadcast channel. The
// null room (Name == "", IsNull == true) is the sentinel home for
// connections that haven't joined a named room yet; it permits Unicast but
// not Broadcast.
type Room struct {
	Name      string
	IsNull    bool
	CreatedAt time.Time

	mu      sync.Mutex
	members map[envelope.ConnectionID]*Client
	alloc   *idallocator.Allocator
}

func newRoom(name string, isNull bool, alloc *idallocator.Allocator) *Room {
	return &Room{
		Name:      name,
		IsNull:    isNull,
		CreatedAt: time.Now(),
		members:   make(map[envelope.ConnectionID]*Client),
		alloc:     alloc,
	}
}

// join inserts client into the room's member set. Idempotent: re-joining a
// client already present is a no-op (no presence emitted), matching the
// join/leave tie-break.
func (r *Room) join(c *Client) (alreadyMember bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[c.ID]; ok {
		return true
	}
	r.members[c.ID] = c
	if !r.IsNull {
		metrics.RoomMembers.WithLabelValues(r.Name).Set(float64(len(r.members)))
	}
	return false
}

// leave removes client from the room's member set and reports whether the
// room is now empty.
func (r *Room) leave(c *Client) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, c.ID)
	if !r.IsNull {
		metrics.RoomMembers.WithLabelValues(r.Name).Set(float64(len(r.members)))
	}
	return len(r.members) == 0
}

// Broadcast stamps env with a fresh id/timestamp, serializes it exactly
// once, and enqueues that same byte slice onto every current member's send
// queue in one pass under the room lock, which is what gives broadcasts
// their per-room total order. excludeSelf skips the member whose
// ConnectionID equals from. senderSeq, when non-nil, is echoed back on
// the originating client's own copy only: that one recipient gets a
// second, separately-marshaled copy of the same id/from/timestamp with
// seq set, while every other member still receives the identical common
// bytes. Members whose queue overflows are returned to the caller rather
// than handled here, so the caller can drop them without re-entering the
// room lock it's already holding.
func (r *Room) Broadcast(env *envelope.Envelope, from envelope.ConnectionID, excludeSelf bool, senderSeq *json.Number) (id uint64, overflowed []*Client, err error) {
	if r.IsNull {
		return 0, nil, ErrNullRoomBroadcast
	}

	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	id = r.alloc.Next()
	env.Stamp(id, from.String(), start)
	raw, err := json.Marshal(env)
	if err != nil {
		return 0, nil, err
	}

	var senderRaw []byte
	if senderSeq != nil && !excludeSelf {
		senderEnv := *env
		senderEnv.Seq = senderSeq
		senderRaw, err = json.Marshal(&senderEnv)
		if err != nil {
			return 0, nil, err
		}
	}

	for cid, member := range r.members {
		if excludeSelf && cid == from {
			continue
		}
		out := raw
		if senderRaw != nil && cid == from {
			out = senderRaw
		}
		if !member.enqueue(out) {
			overflowed = append(overflowed, member)
		}
	}

	metrics.BroadcastDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
	return id, overflowed, nil
}

// Unicast stamps and delivers env to exactly one member, identified by
// target. found is false when no such member is currently in the room.
func (r *Room) Unicast(target envelope.ConnectionID, env *envelope.Envelope, from envelope.ConnectionID) (id uint64, found bool, overflowed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.members[target]
	if !ok {
		return 0, false, false, nil
	}

	id = r.alloc.Next()
	env.Stamp(id, from.String(), time.Now())
	raw, err := json.Marshal(env)
	if err != nil {
		return 0, true, false, err
	}

	return id, true, !member.enqueue(raw), nil
}

// ServerUnicast stamps and delivers env directly to target, with from set
// to the "server" sentinel rather than another client's ConnectionID. Used
// for ping/who/error replies, which go to the originator only.
func (r *Room) ServerUnicast(target *Client, env *envelope.Envelope) (id uint64, overflowed bool, err error) {
	id = r.alloc.Next()
	env.Stamp(id, envelope.ServerFrom, time.Now())
	raw, err := json.Marshal(env)
	if err != nil {
		return 0, false, err
	}
	return id, !target.enqueue(raw), nil
}

// BroadcastServer stamps env with from set to the "server" sentinel and
// fans it out to every current member, no exclusions. Used for presence
// events (joined/left/nick), which originate from the room itself rather
// than being relayed on behalf of one client.
func (r *Room) BroadcastServer(env *envelope.Envelope) (id uint64, overflowed []*Client, err error) {
	if r.IsNull {
		return 0, nil, ErrNullRoomBroadcast
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id = r.alloc.Next()
	env.Stamp(id, envelope.ServerFrom, time.Now())
	raw, err := json.Marshal(env)
	if err != nil {
		return 0, nil, err
	}

	for _, member := range r.members {
		if !member.enqueue(raw) {
			overflowed = append(overflowed, member)
		}
	}
	return id, overflowed, nil
}

// Member returns the room's current member with the given ConnectionID, if
// any; used by the distributor to close an overloaded unicast target.
func (r *Room) Member(id envelope.ConnectionID) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.members[id]
	return c, ok
}

// Snapshot returns a consistent {uid, nick} list for every current member,
// taken under the room lock.
func (r *Room) Snapshot() []Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Presence, 0, len(r.members))
	for _, member := range r.members {
		out = append(out, Presence{UID: member.ID.String(), Nick: member.Nick()})
	}
	return out
}

// MemberCount reports the room's current size, for metrics and tests.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
