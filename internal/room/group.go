package room

import (
	"sync"

	"github.com/instant-chat/instant/internal/idallocator"
	"github.com/instant-chat/instant/internal/metrics"
)

// Group is the process-wide registry of live named rooms. Its invariant,
// group.members(r.name) == r for every room
// currently alive, holds because Join/Leave are the only ways a Room
// enters or leaves the map, both under Group's own lock.
type Group struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	alloc    *idallocator.Allocator
	nullRoom *Room
}

// NewGroup builds an empty registry. alloc is shared by every room it
// creates, including the null room, so MessageIDs stay globally unique
// across the whole process.
func NewGroup(alloc *idallocator.Allocator) *Group {
	return &Group{
		rooms:    make(map[string]*Room),
		alloc:    alloc,
		nullRoom: newRoom("", true, alloc),
	}
}

// NullRoom returns the singleton room unrouted connections belong to.
func (g *Group) NullRoom() *Room {
	return g.nullRoom
}

// Lookup returns the named room if it currently has at least one member,
// without creating it. A fresh lookup after the last member leaves finds
// no room; the next Join re-creates it.
func (g *Group) Lookup(name string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[name]
	return r, ok
}

// Join finds-or-creates the named room and inserts client into it,
// reporting whether the client was already a member (in which case no
// presence event should be emitted).
func (g *Group) Join(c *Client, name string) (r *Room, alreadyMember bool) {
	g.mu.Lock()
	r, ok := g.rooms[name]
	if !ok {
		r = newRoom(name, false, g.alloc)
		g.rooms[name] = r
		metrics.ActiveRooms.Inc()
	}
	// Insert while still holding the group lock (lock order Group → Room),
	// so Leave's empty-room deletion can't interleave between the lookup
	// and the membership insert and strand the joiner in a deleted room.
	alreadyMember = r.join(c)
	g.mu.Unlock()

	c.setRoom(r)
	return r, alreadyMember
}

// Leave removes client from r. A room is created lazily on first join and
// destroyed when its membership transitions to empty; if r becomes empty
// and isn't the null room, it is deleted from the group here, under the
// group lock.
func (g *Group) Leave(c *Client, r *Room) {
	if r == nil || r.IsNull {
		if r != nil {
			r.leave(c)
		}
		c.setRoom(nil)
		return
	}

	empty := r.leave(c)
	c.setRoom(nil)

	if !empty {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Re-check under the lock: another goroutine may have re-joined this
	// room between r.leave's unlock and our acquiring g.mu.
	if current, ok := g.rooms[r.Name]; ok && current == r && r.MemberCount() == 0 {
		delete(g.rooms, r.Name)
		metrics.ActiveRooms.Dec()
		metrics.RoomMembers.DeleteLabelValues(r.Name)
	}
}

// JoinNullRoom inserts client into the null room's membership directly
// (there's only ever one null room, so this skips Join's find-or-create
// path) and without emitting presence, since the null room never broadcasts.
// This is what makes an anonymous (/api/ws) connection unicast-targetable
// by ConnectionID despite never joining a named room.
func (g *Group) JoinNullRoom(c *Client) {
	g.nullRoom.join(c)
	c.setRoom(g.nullRoom)
}

// Rooms returns a snapshot of every currently live named room, for shutdown
// broadcasts and diagnostics.
func (g *Group) Rooms() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}
