// Package envelope defines the wire format exchanged over a room WebSocket:
// a small JSON object with a server-stamped identity (id, from, timestamp)
// wrapped around an opaque, client-supplied data payload. The core never
// interprets data; it only stamps, validates, and routes the envelope
// around it.
package envelope

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// ConnectionID is the server-assigned identifier for a live WebSocket
// session, embedded as the envelope's "from" (and, for unicast, "to").
type ConnectionID uint64

// String renders the ID the way it appears on the wire: a plain decimal
// string, so "from"/"to"/"uid" fields compare equal to what a client parsed
// out of an earlier envelope.
func (c ConnectionID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// ServerFrom is the sentinel "from" value for envelopes the core itself
// originates (presence events, pong/who/error replies) rather than relays
// on behalf of a connected client.
const ServerFrom = "server"

// Decode errors. The distributor reports each one back to the originator as
// a client-protocol error reply ("invalid-seq" for ErrInvalidSeq,
// "malformed-envelope" for the other two), never as a 500 or a dropped
// connection.
var (
	ErrNotObject   = errors.New("envelope: not a JSON object")
	ErrMissingType = errors.New("envelope: missing or empty type")
	ErrInvalidSeq  = errors.New("envelope: seq is not numeric")
)

// Envelope is the parsed form of a single WS text frame, in either
// direction. Seq is nil when the client omitted it (or on server-originated
// envelopes that don't echo one).
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Seq       *json.Number    `json:"seq,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode parses a single inbound frame. Any client-supplied id/from is
// discarded: Decode copies only type, to, seq and data into the Envelope,
// so a forged value never reaches the struct.
func Decode(raw []byte) (*Envelope, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, ErrNotObject
	}

	typeRaw, ok := generic["type"]
	if !ok {
		return nil, ErrMissingType
	}
	var typ string
	if err := json.Unmarshal(typeRaw, &typ); err != nil || typ == "" {
		return nil, ErrMissingType
	}

	env := &Envelope{Type: typ, Data: json.RawMessage("{}")}

	if toRaw, ok := generic["to"]; ok {
		_ = json.Unmarshal(toRaw, &env.To)
	}

	if seqRaw, ok := generic["seq"]; ok {
		var num json.Number
		if err := json.Unmarshal(seqRaw, &num); err != nil {
			return nil, ErrInvalidSeq
		}
		if _, err := num.Float64(); err != nil {
			return nil, ErrInvalidSeq
		}
		env.Seq = &num
	}

	if dataRaw, ok := generic["data"]; ok {
		env.Data = dataRaw
	}

	return env, nil
}

// Stamp overwrites id/from/timestamp with server-assigned values,
// regardless of anything a client set on the wire. This is the one place
// those three fields are ever written.
func (e *Envelope) Stamp(id uint64, from string, ts time.Time) {
	e.ID = strconv.FormatUint(id, 10)
	e.From = from
	e.Timestamp = ts.UnixMilli()
}

// Reply builds the envelope for a server-originated message to a single
// recipient: an error, pong, or who snapshot. It carries the same seq the
// triggering frame supplied, per the echo-seq invariant.
func Reply(typ string, seq *json.Number, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: typ, Seq: seq, Data: raw}, nil
}

// New builds an envelope with a given type and data payload, typically for
// Room.Broadcast/Unicast to stamp before sending.
func New(typ string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: typ, Data: raw}, nil
}
