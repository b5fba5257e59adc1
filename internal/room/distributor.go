package room

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/instant-hq/instant/internal/envelope"
	"github.com/instant-hq/instant/internal/logging"
	"github.com/instant-hq/instant/internal/metrics"
	"github.com/instant-hq/instant/internal/uid"
)

// Distributor is the fan-out fabric: it validates inbound envelopes, stamps
// server fields, and routes frames to rooms and members.
type Distributor struct {
	group *Group
}

// NewDistributor wires the distributor to a room group.
func NewDistributor(group *Group) *Distributor {
	return &Distributor{group: group}
}

// Group returns the underlying room registry.
func (d *Distributor) Group() *Group { return d.group }

// HandleConnect registers a freshly upgraded client. An empty room name
// places the client into the null room (the API endpoint); otherwise the
// named room is created on first join. The client is greeted with a hello
// envelope carrying its assigned uid.
func (d *Distributor) HandleConnect(c *Client, roomName string) {
	c.markOpen()
	metrics.IncConnection()

	if roomName == "" {
		d.group.JoinNull(c)
	} else {
		d.group.Join(c, roomName)
	}

	data, _ := json.Marshal(map[string]string{
		"uid":  c.ID().String(),
		"nick": c.Nick(),
	})
	d.sendDirect(c, &envelope.Envelope{
		Type: envelope.TypeHello,
		From: envelope.FromServer,
		Data: data,
	})

	logging.Info(context.Background(), "Client connected",
		zap.String("conn_id", c.ID().String()), zap.String("room", roomName))
}

// HandleDisconnect runs the leave path: the room drops its handle before the
// connection task releases the client.
func (d *Distributor) HandleDisconnect(c *Client) {
	d.group.Leave(c)
	c.Disconnect(websocket.CloseNormalClosure, "")
	logging.Info(context.Background(), "Client disconnected", zap.String("conn_id", c.ID().String()))
}

// Dispatch decodes one inbound frame and routes it by type. Protocol errors
// are answered to the originator only; the connection survives them.
func (d *Distributor) Dispatch(c *Client, frame []byte) {
	env, err := envelope.Decode(frame)
	if err != nil {
		metrics.EnvelopesDispatched.WithLabelValues("invalid", "rejected").Inc()
		d.sendError(c, envelope.ReasonMalformed, "")
		return
	}

	switch env.Type {
	case envelope.TypePing:
		d.handlePing(c, env)
	case envelope.TypeBroadcast:
		d.handleBroadcast(c, env)
	case envelope.TypeUnicast:
		d.handleUnicast(c, env)
	case envelope.TypeWho:
		d.handleWho(c, env)
	case envelope.TypeNick:
		d.handleNick(c, env)
	default:
		metrics.EnvelopesDispatched.WithLabelValues(env.Type, "unknown").Inc()
		d.sendError(c, envelope.ReasonUnknownType, env.Seq)
		return
	}
	metrics.EnvelopesDispatched.WithLabelValues(env.Type, "ok").Inc()
}

func (d *Distributor) handlePing(c *Client, env *envelope.Envelope) {
	d.sendDirect(c, &envelope.Envelope{
		Type: envelope.TypePong,
		From: envelope.FromServer,
		Seq:  env.Seq,
		Data: env.Data,
	})
}

func (d *Distributor) handleBroadcast(c *Client, env *envelope.Envelope) {
	r := c.Room()
	if r == nil || r.IsNull() {
		d.sendError(c, envelope.ReasonNoSuchRoom, env.Seq)
		return
	}

	out := &envelope.Envelope{
		Type: envelope.TypeBroadcast,
		From: c.ID().String(),
		Data: env.Data,
	}
	if _, err := r.BroadcastFrom(out, c.ID(), env.Seq, env.ExcludeSelf); err != nil {
		d.sendError(c, envelope.ReasonNoSuchRoom, env.Seq)
	}
}

func (d *Distributor) handleUnicast(c *Client, env *envelope.Envelope) {
	r := c.Room()
	if r == nil {
		d.sendError(c, envelope.ReasonNoSuchRoom, env.Seq)
		return
	}

	target, ok := uid.Parse(env.To)
	if !ok {
		d.sendError(c, envelope.ReasonNoSuchMember, env.Seq)
		return
	}

	out := &envelope.Envelope{
		Type: envelope.TypeUnicast,
		From: c.ID().String(),
		To:   env.To,
		Data: env.Data,
	}
	if _, err := r.UnicastFrom(out, target, c.ID(), env.Seq); err != nil {
		d.sendError(c, envelope.ReasonNoSuchMember, env.Seq)
	}
}

func (d *Distributor) handleWho(c *Client, env *envelope.Envelope) {
	r := c.Room()
	if r == nil {
		d.sendError(c, envelope.ReasonNoSuchRoom, env.Seq)
		return
	}

	snapshot := r.Snapshot()
	data, err := json.Marshal(map[string]any{"members": snapshot})
	if err != nil {
		return
	}
	d.sendDirect(c, &envelope.Envelope{
		Type: envelope.TypeWho,
		From: envelope.FromServer,
		Seq:  env.Seq,
		Data: data,
	})
}

func (d *Distributor) handleNick(c *Client, env *envelope.Envelope) {
	var payload struct {
		Nick string `json:"nick"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil || !validNick(payload.Nick) {
		d.sendError(c, envelope.ReasonBadNick, env.Seq)
		return
	}

	c.SetNick(payload.Nick)

	r := c.Room()
	if r == nil || r.IsNull() {
		// Nothing to announce to; the nick still took effect.
		d.sendDirect(c, &envelope.Envelope{
			Type: envelope.TypeNick,
			From: envelope.FromServer,
			Seq:  env.Seq,
			Data: presenceData(c),
		})
		return
	}

	out := &envelope.Envelope{
		Type: envelope.TypeNick,
		From: envelope.FromServer,
		Data: presenceData(c),
	}
	if _, err := r.BroadcastFrom(out, c.ID(), env.Seq, false); err != nil {
		logging.Error(context.Background(), "nick presence failed", zap.Error(err))
	}
}

// sendDirect stamps and delivers an envelope straight to one client,
// bypassing room membership. Used for replies (pong, who, hello, error).
func (d *Distributor) sendDirect(c *Client, env *envelope.Envelope) {
	id := d.group.Allocator().Next()
	env.ID = id.String()
	env.Timestamp = id.Millis()

	frame, err := env.Encode()
	if err != nil {
		return
	}
	if !c.SendRaw(frame) {
		d.dropOverflowed(c)
	}
}

func (d *Distributor) sendError(c *Client, reason string, seq json.Number) {
	data, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return
	}
	d.sendDirect(c, &envelope.Envelope{
		Type: envelope.TypeError,
		From: envelope.FromServer,
		Seq:  seq,
		Data: data,
	})
}

// dropOverflowed evicts a client whose queue filled up outside a room
// operation.
func (d *Distributor) dropOverflowed(c *Client) {
	metrics.QueueOverflows.Inc()
	d.group.Leave(c)
	c.Disconnect(websocket.CloseInternalServerErr, "send queue overflow")
}

func presenceData(c *Client) json.RawMessage {
	data, _ := json.Marshal(map[string]string{
		"uid":  c.ID().String(),
		"nick": c.Nick(),
	})
	return data
}

// validNick enforces the nick constraints: at most 256 characters, no
// control characters.
func validNick(nick string) bool {
	if len(nick) > MaxNickLength {
		return false
	}
	for _, r := range nick {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
