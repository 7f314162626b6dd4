// Package distributor implements the message distributor:
// the core fan-out that decodes inbound envelopes, validates them, dispatches
// by type, and stamps every outgoing envelope with a server-assigned id and
// timestamp via the rooms it routes through. It implements room.Dispatcher,
// so a Client's ReadPump hands every inbound frame here without the room
// package needing to know about envelope types at all.
package distributor

import (
	"context"
	"encoding/json"
	"strconv"
	"unicode"

	"github.com/instant-chat/instant/internal/envelope"
	"github.com/instant-chat/instant/internal/logging"
	"github.com/instant-chat/instant/internal/metrics"
	"github.com/instant-chat/instant/internal/room"
)

// MaxNickLength is the nick validation bound.
const MaxNickLength = 256

// RateLimiter throttles per-connection message volume.
// It is distinct from the send-queue backpressure policy, which protects
// the outbound direction; this protects the distributor's dispatch loop
// from a single chatty client. Nil disables the check.
type RateLimiter interface {
	CheckConnection(ctx context.Context, connectionID string) error
}

// Distributor routes envelope messages to room targets. It is stateless
// beyond its dependencies: all mutable state (membership, queues) lives in
// the room package.
type Distributor struct {
	group   *room.Group
	limiter RateLimiter
}

// New builds a Distributor over group. limiter may be nil to skip
// per-connection rate limiting entirely.
func New(group *room.Group, limiter RateLimiter) *Distributor {
	return &Distributor{group: group, limiter: limiter}
}

// JoinRoom finds-or-creates the named room, joins client to it, and, unless
// the client was already a member, broadcasts a "joined" presence event
// on entering OPEN.
func (d *Distributor) JoinRoom(ctx context.Context, c *room.Client, name string) *room.Room {
	r, alreadyMember := d.group.Join(c, name)
	if !alreadyMember {
		d.emitPresence(ctx, r, "joined", c)
	}
	return r
}

// Move leaves the client's current room (emitting "left" there first) and
// joins name (emitting "joined" there): moving rooms is leave then join, so
// presence on the old room is emitted before presence on the new.
func (d *Distributor) Move(ctx context.Context, c *room.Client, name string) *room.Room {
	if cur := c.Room(); cur != nil {
		d.leaveCurrent(ctx, c, cur)
	}
	return d.JoinRoom(ctx, c, name)
}

// JoinNull registers an anonymous (/api/ws) connection in the null room, so
// it can still be unicast-targeted by ConnectionID even though it never
// joins a named room. No presence event is emitted; the null room is a
// singleton that never broadcasts.
func (d *Distributor) JoinNull(c *room.Client) {
	d.group.JoinNullRoom(c)
}

// HandleDisconnect implements room.Dispatcher. It removes the client from
// whatever room it was in and emits a "left" presence, mirroring the
// CLOSED transition and leave semantics.
func (d *Distributor) HandleDisconnect(ctx context.Context, c *room.Client) {
	if r := c.Room(); r != nil {
		d.leaveCurrent(ctx, c, r)
	}
}

func (d *Distributor) leaveCurrent(ctx context.Context, c *room.Client, r *room.Room) {
	d.group.Leave(c, r)
	if !r.IsNull {
		d.emitPresence(ctx, r, "left", c)
	}
}

// Dispatch implements room.Dispatcher: decode, validate, and route a single
// inbound frame by its "type".
func (d *Distributor) Dispatch(ctx context.Context, c *room.Client, raw []byte) {
	if d.limiter != nil {
		if err := d.limiter.CheckConnection(ctx, c.ID.String()); err != nil {
			d.replyError(c, nil, "rate-limited")
			metrics.EnvelopesProcessed.WithLabelValues("unknown", "rejected").Inc()
			return
		}
	}

	env, err := envelope.Decode(raw)
	if err != nil {
		d.replyError(c, nil, decodeErrorReason(err))
		metrics.EnvelopesProcessed.WithLabelValues("unknown", "error").Inc()
		return
	}

	switch env.Type {
	case "ping":
		d.handlePing(c, env)
	case "unicast":
		d.handleUnicast(c, env)
	case "broadcast":
		d.handleBroadcast(c, env)
	case "who":
		d.handleWho(c, env)
	case "nick":
		d.handleNick(ctx, c, env)
	default:
		d.replyError(c, env.Seq, "unknown-type")
		metrics.EnvelopesProcessed.WithLabelValues(env.Type, "error").Inc()
	}
}

func decodeErrorReason(err error) string {
	switch err {
	case envelope.ErrInvalidSeq:
		return "invalid-seq"
	default:
		return "malformed-envelope"
	}
}

func (d *Distributor) currentRoom(c *room.Client) *room.Room {
	if r := c.Room(); r != nil {
		return r
	}
	return d.group.NullRoom()
}

func (d *Distributor) handlePing(c *room.Client, env *envelope.Envelope) {
	reply, err := envelope.Reply("pong", env.Seq, struct{}{})
	if err != nil {
		return
	}
	d.sendToOriginator(c, reply)
	metrics.EnvelopesProcessed.WithLabelValues("ping", "ok").Inc()
}

func (d *Distributor) handleWho(c *room.Client, env *envelope.Envelope) {
	snapshot := d.currentRoom(c).Snapshot()
	reply, err := envelope.Reply("who", env.Seq, snapshot)
	if err != nil {
		return
	}
	d.sendToOriginator(c, reply)
	metrics.EnvelopesProcessed.WithLabelValues("who", "ok").Inc()
}

func (d *Distributor) handleNick(ctx context.Context, c *room.Client, env *envelope.Envelope) {
	var payload struct {
		Nick string `json:"nick"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		d.replyError(c, env.Seq, "invalid-nick")
		return
	}
	nick := payload.Nick
	if !validNick(nick) {
		d.replyError(c, env.Seq, "invalid-nick")
		metrics.EnvelopesProcessed.WithLabelValues("nick", "error").Inc()
		return
	}

	c.SetNick(nick)
	d.emitPresence(ctx, d.currentRoom(c), "nick", c)
	metrics.EnvelopesProcessed.WithLabelValues("nick", "ok").Inc()
}

func validNick(nick string) bool {
	if nick == "" || len(nick) > MaxNickLength {
		return false
	}
	for _, r := range nick {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func (d *Distributor) handleUnicast(c *room.Client, env *envelope.Envelope) {
	targetID, err := strconv.ParseUint(env.To, 10, 64)
	if err != nil {
		d.replyError(c, env.Seq, "no-such-member")
		metrics.EnvelopesProcessed.WithLabelValues("unicast", "error").Inc()
		return
	}

	r := d.currentRoom(c)
	out, err := envelope.New("unicast", env.Data)
	if err != nil {
		return
	}

	_, found, overflowed, err := r.Unicast(envelope.ConnectionID(targetID), out, c.ID)
	if err != nil || !found {
		d.replyError(c, env.Seq, "no-such-member")
		metrics.EnvelopesProcessed.WithLabelValues("unicast", "error").Inc()
		return
	}
	if overflowed {
		d.dropOverloaded(r, envelope.ConnectionID(targetID))
	}
	metrics.EnvelopesProcessed.WithLabelValues("unicast", "ok").Inc()
}

func (d *Distributor) handleBroadcast(c *room.Client, env *envelope.Envelope) {
	var opts struct {
		ExcludeSelf bool `json:"exclude_self"`
	}
	_ = json.Unmarshal(env.Data, &opts)

	r := d.currentRoom(c)
	out, err := envelope.New("broadcast", env.Data)
	if err != nil {
		return
	}

	_, overflowed, err := r.Broadcast(out, c.ID, opts.ExcludeSelf, env.Seq)
	if err != nil {
		d.replyError(c, env.Seq, "no-such-room")
		metrics.EnvelopesProcessed.WithLabelValues("broadcast", "error").Inc()
		return
	}
	for _, o := range overflowed {
		d.dropOverloadedClient(r, o)
	}
	metrics.EnvelopesProcessed.WithLabelValues("broadcast", "ok").Inc()
}

// dropOverloaded handles a send-queue overflow discovered by ConnectionID
// (the unicast path, which doesn't get the *room.Client back directly).
func (d *Distributor) dropOverloaded(r *room.Room, id envelope.ConnectionID) {
	if member, ok := r.Member(id); ok {
		d.dropOverloadedClient(r, member)
	}
}

// dropOverloadedClient implements the overload failure semantics: a client
// whose send queue overflows is removed from the room (leave presence
// emitted) and its WebSocket closed with 1011, leaving other members
// unaffected.
func (d *Distributor) dropOverloadedClient(r *room.Room, c *room.Client) {
	logging.Warn(c.Context(), "client send queue overflowed, closing connection")
	d.group.Leave(c, r)
	if !r.IsNull {
		d.emitPresence(context.Background(), r, "left", c)
	}
	c.CloseOverloaded()
}

func (d *Distributor) emitPresence(ctx context.Context, r *room.Room, kind string, c *room.Client) {
	data := room.Presence{UID: c.ID.String(), Nick: c.Nick()}
	env, err := envelope.New(kind, data)
	if err != nil {
		return
	}
	if _, overflowed, err := r.BroadcastServer(env); err == nil {
		for _, o := range overflowed {
			d.dropOverloadedClient(r, o)
		}
	}
	metrics.EnvelopesProcessed.WithLabelValues(kind, "ok").Inc()
}

func (d *Distributor) replyError(c *room.Client, seq *json.Number, reason string) {
	reply, err := envelope.Reply("error", seq, map[string]string{"reason": reason})
	if err != nil {
		return
	}
	d.sendToOriginator(c, reply)
}

// sendToOriginator stamps and delivers a server reply to exactly one
// client, using whatever room it's currently in (or the null room) purely
// as an id allocator/serializer; it never reaches any other member.
func (d *Distributor) sendToOriginator(c *room.Client, env *envelope.Envelope) {
	r := d.currentRoom(c)
	if _, overflowed, err := r.ServerUnicast(c, env); err == nil && overflowed {
		d.dropOverloadedClient(r, c)
	}
}
