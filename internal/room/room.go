package room

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/instant-hq/instant/internal/envelope"
	"github.com/instant-hq/instant/internal/logging"
	"github.com/instant-hq/instant/internal/metrics"
	"github.com/instant-hq/instant/internal/uid"
)

var (
	// ErrNoSuchRoom is returned when broadcasting on the null room.
	ErrNoSuchRoom = errors.New("room: no such room")
	// ErrNoSuchMember is returned when a unicast target is not present.
	ErrNoSuchMember = errors.New("room: no such member")
)

// Member is one entry of a who snapshot.
type Member struct {
	UID  string `json:"uid"`
	Nick string `json:"nick"`
}

// Room is a set of connected clients sharing a broadcast channel. The room
// with the empty name is the null room holding unrouted clients; broadcasting
// to it fails.
type Room struct {
	name      string
	createdAt time.Time

	alloc   *uid.Allocator
	onEmpty func(name string)

	mu      sync.Mutex
	members map[uid.ID]*Client
}

func newRoom(name string, alloc *uid.Allocator, onEmpty func(string)) *Room {
	return &Room{
		name:      name,
		createdAt: time.Now(),
		alloc:     alloc,
		onEmpty:   onEmpty,
		members:   make(map[uid.ID]*Client),
	}
}

// Name returns the room name; empty for the null room.
func (r *Room) Name() string { return r.name }

// IsNull reports whether this is the null room.
func (r *Room) IsNull() bool { return r.name == "" }

// CreatedAt returns the room's creation time.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// MemberCount returns the current membership size.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Snapshot returns a consistent view of the membership.
func (r *Room) Snapshot() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Member, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, Member{UID: c.ID().String(), Nick: c.Nick()})
	}
	return out
}

// Broadcast stamps the envelope and fans it out to every member. The frame
// is serialized once and the identical bytes are enqueued on every queue
// under the room lock, which is what gives broadcasts their per-room total
// order.
func (r *Room) Broadcast(env *envelope.Envelope) (string, error) {
	return r.BroadcastFrom(env, 0, "", false)
}

// BroadcastFrom fans out like Broadcast but knows the originating member:
// the originator's copy carries its echoed seq (re-serialized just for it),
// and excludeOrigin leaves the originator out entirely.
func (r *Room) BroadcastFrom(env *envelope.Envelope, origin uid.ID, seq json.Number, excludeOrigin bool) (string, error) {
	if r.IsNull() {
		return "", ErrNoSuchRoom
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(env, origin, seq, excludeOrigin)
}

// broadcastLocked requires r.mu. It never takes a client lock; overflowing
// members are dropped after the fan-out loop.
func (r *Room) broadcastLocked(env *envelope.Envelope, origin uid.ID, seq json.Number, excludeOrigin bool) (string, error) {
	if r.IsNull() {
		return "", ErrNoSuchRoom
	}

	r.stamp(env)

	env.Seq = ""
	shared, err := env.Encode()
	if err != nil {
		return "", err
	}

	var originFrame []byte
	if seq != "" && !excludeOrigin {
		cp := env.Clone()
		cp.Seq = seq
		if originFrame, err = cp.Encode(); err != nil {
			return "", err
		}
	}

	var overflowed []*Client
	fanout := 0
	for id, member := range r.members {
		frame := shared
		if id == origin {
			if excludeOrigin {
				continue
			}
			if originFrame != nil {
				frame = originFrame
			}
		}
		if !member.SendRaw(frame) {
			overflowed = append(overflowed, member)
			continue
		}
		fanout++
	}
	metrics.BroadcastFanout.Observe(float64(fanout))

	for _, member := range overflowed {
		r.dropLocked(member)
	}

	return env.ID, nil
}

// UnicastFrom stamps and delivers the envelope to a single member. The
// frame carries the echoed seq only when the target is the originator.
// Unicast is permitted on the null room.
func (r *Room) UnicastFrom(env *envelope.Envelope, target uid.ID, origin uid.ID, seq json.Number) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.members[target]
	if !ok {
		return "", ErrNoSuchMember
	}

	r.stamp(env)
	if target == origin {
		env.Seq = seq
	} else {
		env.Seq = ""
	}

	frame, err := env.Encode()
	if err != nil {
		return "", err
	}
	if !member.SendRaw(frame) {
		r.dropLocked(member)
		return "", ErrNoSuchMember
	}
	return env.ID, nil
}

// stamp assigns the server fields. The timestamp is recovered from the
// allocated ID so it is monotonic even if the wall clock is not.
func (r *Room) stamp(env *envelope.Envelope) {
	id := r.alloc.Next()
	env.ID = id.String()
	env.Timestamp = id.Millis()
}

// addLocked inserts a member and emits the joined presence. Requires r.mu.
func (r *Room) addLocked(c *Client) {
	r.members[c.ID()] = c
	c.setRoom(r)
	if !r.IsNull() {
		r.presenceLocked(envelope.TypeJoined, c)
		metrics.RoomMembers.WithLabelValues(r.name).Set(float64(len(r.members)))
	}
}

// removeLocked deletes a member and emits the left presence to the remaining
// members. Returns true when the room became empty. Requires r.mu.
func (r *Room) removeLocked(c *Client) bool {
	if _, ok := r.members[c.ID()]; !ok {
		return false
	}
	delete(r.members, c.ID())
	c.setRoom(nil)

	if !r.IsNull() {
		r.presenceLocked(envelope.TypeLeft, c)
		if len(r.members) > 0 {
			metrics.RoomMembers.WithLabelValues(r.name).Set(float64(len(r.members)))
		} else {
			metrics.RoomMembers.DeleteLabelValues(r.name)
		}
	}
	return len(r.members) == 0
}

// dropLocked evicts a member whose queue overflowed: remove, emit presence,
// close with 1011. Room deletion happens asynchronously since the group lock
// ranks above the room lock. Requires r.mu.
func (r *Room) dropLocked(c *Client) {
	logging.Warn(context.Background(), "Send queue overflow, dropping client",
		zap.String("conn_id", c.ID().String()), zap.String("room", r.name))
	metrics.QueueOverflows.Inc()

	empty := r.removeLocked(c)
	c.Disconnect(websocket.CloseInternalServerErr, "send queue overflow")

	if empty && !r.IsNull() && r.onEmpty != nil {
		go r.onEmpty(r.name)
	}
}

// presenceLocked broadcasts a joined/left/nick event for the given client.
// Requires r.mu.
func (r *Room) presenceLocked(eventType string, c *Client) {
	data, err := json.Marshal(map[string]string{
		"uid":  c.ID().String(),
		"nick": c.Nick(),
	})
	if err != nil {
		return
	}
	env := &envelope.Envelope{
		Type: eventType,
		From: envelope.FromServer,
		Data: data,
	}
	if _, err := r.broadcastLocked(env, 0, "", false); err != nil {
		logging.Error(context.Background(), "presence broadcast failed",
			zap.String("room", r.name), zap.Error(err))
	}
}
