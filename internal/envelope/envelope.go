// Package envelope defines the JSON unit of WebSocket communication and its
// validation rules. The server treats the data member as opaque; only the
// reserved envelope fields are interpreted.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
)

// FromServer is the sentinel sender for frames originated by the server.
const FromServer = "server"

// Well-known envelope types.
const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeUnicast   = "unicast"
	TypeBroadcast = "broadcast"
	TypeWho       = "who"
	TypeNick      = "nick"
	TypeJoined    = "joined"
	TypeLeft      = "left"
	TypeError     = "error"
	TypeHello     = "hello"
)

// Error reasons surfaced to clients.
const (
	ReasonMalformed    = "malformed"
	ReasonUnknownType  = "unknown-type"
	ReasonNoSuchMember = "no-such-member"
	ReasonNoSuchRoom   = "no-such-room"
	ReasonBadNick      = "bad-nick"
)

var (
	// ErrNotObject is returned for frames that are not JSON objects.
	ErrNotObject = errors.New("envelope: frame is not a JSON object")
	// ErrNoType is returned when the type member is absent or empty.
	ErrNoType = errors.New("envelope: missing type")
	// ErrBadSeq is returned when seq is present but not numeric.
	ErrBadSeq = errors.New("envelope: seq is not numeric")
)

// Envelope is the wire message. ID, From and Timestamp are always assigned by
// the server on delivery; client-supplied values are overwritten. Seq is the
// client's own sequence number, echoed back only to the originator.
type Envelope struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	Seq         json.Number     `json:"seq,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	ExcludeSelf bool            `json:"exclude_self,omitempty"`
}

// Decode parses and validates an inbound frame. It rejects frames that are
// not JSON objects, lack a type, or carry a non-numeric seq.
func Decode(frame []byte) (*Envelope, error) {
	trimmed := bytes.TrimLeft(frame, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	var raw struct {
		Type        string          `json:"type"`
		To          string          `json:"to"`
		Seq         json.RawMessage `json:"seq"`
		Data        json.RawMessage `json:"data"`
		ExcludeSelf bool            `json:"exclude_self"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, ErrNotObject
	}
	if raw.Type == "" {
		return nil, ErrNoType
	}

	env := &Envelope{
		Type:        raw.Type,
		To:          raw.To,
		Data:        raw.Data,
		ExcludeSelf: raw.ExcludeSelf,
	}

	if len(raw.Seq) > 0 && !bytes.Equal(raw.Seq, []byte("null")) {
		var seq json.Number
		if err := json.Unmarshal(raw.Seq, &seq); err != nil {
			return nil, ErrBadSeq
		}
		env.Seq = seq
	}

	return env, nil
}

// Encode serializes the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Clone returns a shallow copy. Data is shared; callers never mutate it.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	return &cp
}
