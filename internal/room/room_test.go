package room

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instant-hq/instant/internal/envelope"
	"github.com/instant-hq/instant/internal/uid"
)

func newTestGroup() *Group {
	return NewGroup(uid.NewAllocator())
}

func newTestClient(g *Group, depth int) *Client {
	if depth <= 0 {
		depth = 16
	}
	return NewClient(g.Allocator().Next(), nil, ClientOptions{QueueDepth: depth})
}

// recvFrame pops one queued frame, failing the test if none arrives.
func recvFrame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		require.True(t, ok, "send queue closed")
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

func recvEnvelope(t *testing.T, c *Client) *envelope.Envelope {
	t.Helper()
	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(recvFrame(t, c), &env))
	return &env
}

// drain empties a client's queue.
func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func TestJoin_CreatesRoomAndEmitsPresence(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)

	r := g.Join(a, "welcome")
	require.NotNil(t, r)
	assert.Equal(t, "welcome", r.Name())
	assert.Equal(t, r, a.Room())

	got, ok := g.Lookup("welcome")
	assert.True(t, ok)
	assert.Equal(t, r, got)

	env := recvEnvelope(t, a)
	assert.Equal(t, envelope.TypeJoined, env.Type)
	assert.Equal(t, envelope.FromServer, env.From)

	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, a.ID().String(), data["uid"])
	assert.Equal(t, DefaultNick, data["nick"])
}

func TestJoin_Idempotent(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)

	r1 := g.Join(a, "x")
	drain(a)

	r2 := g.Join(a, "x")
	assert.Equal(t, r1, r2)

	// No duplicate presence.
	select {
	case frame := <-a.send:
		t.Fatalf("unexpected frame %s", frame)
	default:
	}
}

func TestJoin_MoveEmitsLeftThenJoined(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)
	witness := newTestClient(g, 0)

	g.Join(witness, "old")
	g.Join(a, "old")
	drain(a)
	drain(witness)

	g.Join(a, "new")

	env := recvEnvelope(t, witness)
	assert.Equal(t, envelope.TypeLeft, env.Type)

	env = recvEnvelope(t, a)
	assert.Equal(t, envelope.TypeJoined, env.Type)
}

func TestLeave_DeletesEmptyRoom(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)

	r := g.Join(a, "ephemeral")
	first := r.CreatedAt()

	g.Leave(a)
	_, ok := g.Lookup("ephemeral")
	assert.False(t, ok)
	assert.Nil(t, a.Room())

	// Rejoining re-creates the room from scratch.
	time.Sleep(2 * time.Millisecond)
	r2 := g.Join(a, "ephemeral")
	assert.NotEqual(t, first, r2.CreatedAt())
}

func TestLeave_EmitsPresenceToRemaining(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)
	b := newTestClient(g, 0)

	g.Join(a, "r")
	g.Join(b, "r")
	drain(a)
	drain(b)

	g.Leave(a)

	env := recvEnvelope(t, b)
	assert.Equal(t, envelope.TypeLeft, env.Type)
	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, a.ID().String(), data["uid"])

	// The room survives with b in it.
	_, ok := g.Lookup("r")
	assert.True(t, ok)
}

func TestBroadcast_IdenticalBytes(t *testing.T) {
	g := newTestGroup()
	members := []*Client{newTestClient(g, 0), newTestClient(g, 0), newTestClient(g, 0)}
	for _, c := range members {
		g.Join(c, "fanout")
	}
	for _, c := range members {
		drain(c)
	}

	r, _ := g.Lookup("fanout")
	id, err := r.Broadcast(&envelope.Envelope{
		Type: envelope.TypeBroadcast,
		From: envelope.FromServer,
		Data: json.RawMessage(`{"text":"hi"}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	var first []byte
	for i, c := range members {
		frame := recvFrame(t, c)
		if i == 0 {
			first = frame
		} else {
			assert.Equal(t, first, frame, "member %d got different bytes", i)
		}
		// Exactly one copy each.
		select {
		case extra := <-c.send:
			t.Fatalf("member %d got extra frame %s", i, extra)
		default:
		}
	}
}

func TestBroadcast_PerRoomTotalOrder(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)
	b := newTestClient(g, 0)
	g.Join(a, "ord")
	g.Join(b, "ord")
	drain(a)
	drain(b)

	r, _ := g.Lookup("ord")
	id1, err := r.Broadcast(&envelope.Envelope{Type: envelope.TypeBroadcast, From: envelope.FromServer, Data: json.RawMessage(`{"n":1}`)})
	require.NoError(t, err)
	id2, err := r.Broadcast(&envelope.Envelope{Type: envelope.TypeBroadcast, From: envelope.FromServer, Data: json.RawMessage(`{"n":2}`)})
	require.NoError(t, err)
	assert.Less(t, id1, id2)

	for _, c := range []*Client{a, b} {
		e1 := recvEnvelope(t, c)
		e2 := recvEnvelope(t, c)
		assert.Equal(t, id1, e1.ID)
		assert.Equal(t, id2, e2.ID)
	}
}

func TestBroadcast_NullRoomFails(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)
	g.JoinNull(a)

	_, err := g.NullRoom().Broadcast(&envelope.Envelope{Type: envelope.TypeBroadcast})
	assert.ErrorIs(t, err, ErrNoSuchRoom)
}

func TestUnicast_NullRoomPermitted(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)
	b := newTestClient(g, 0)
	g.JoinNull(a)
	g.JoinNull(b)

	_, err := g.NullRoom().UnicastFrom(&envelope.Envelope{
		Type: envelope.TypeUnicast,
		From: a.ID().String(),
		Data: json.RawMessage(`{}`),
	}, b.ID(), a.ID(), "")
	require.NoError(t, err)

	env := recvEnvelope(t, b)
	assert.Equal(t, envelope.TypeUnicast, env.Type)
	assert.Equal(t, a.ID().String(), env.From)
}

func TestUnicast_MissingMember(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)
	g.Join(a, "solo")
	drain(a)

	r, _ := g.Lookup("solo")
	_, err := r.UnicastFrom(&envelope.Envelope{Type: envelope.TypeUnicast}, uid.ID(999), a.ID(), "")
	assert.ErrorIs(t, err, ErrNoSuchMember)
}

func TestBroadcast_OverflowDropsClient(t *testing.T) {
	g := newTestGroup()
	slow := NewClient(g.Allocator().Next(), nil, ClientOptions{QueueDepth: 1})
	healthy := newTestClient(g, 64)

	g.Join(healthy, "busy")
	g.Join(slow, "busy")
	drain(healthy)
	// Leave slow's single slot occupied by its own joined presence.

	r, _ := g.Lookup("busy")
	_, err := r.Broadcast(&envelope.Envelope{Type: envelope.TypeBroadcast, From: envelope.FromServer, Data: json.RawMessage(`{}`)})
	require.NoError(t, err)

	// The slow client was evicted and its socket closed with 1011.
	assert.True(t, slow.closed.Load())
	assert.Equal(t, 1, r.MemberCount())

	// Healthy member saw the broadcast, then the left presence.
	env := recvEnvelope(t, healthy)
	assert.Equal(t, envelope.TypeBroadcast, env.Type)
	env = recvEnvelope(t, healthy)
	assert.Equal(t, envelope.TypeLeft, env.Type)
}

func TestSnapshot(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)
	b := newTestClient(g, 0)
	b.SetNick("bee")

	g.Join(a, "snap")
	g.Join(b, "snap")

	r, _ := g.Lookup("snap")
	members := r.Snapshot()
	require.Len(t, members, 2)

	byUID := map[string]string{}
	for _, m := range members {
		byUID[m.UID] = m.Nick
	}
	assert.Equal(t, DefaultNick, byUID[a.ID().String()])
	assert.Equal(t, "bee", byUID[b.ID().String()])
}

func TestCounts(t *testing.T) {
	g := newTestGroup()
	a := newTestClient(g, 0)
	b := newTestClient(g, 0)
	api := newTestClient(g, 0)

	g.Join(a, "one")
	g.Join(b, "two")
	g.JoinNull(api)

	rooms, clients := g.Counts()
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 3, clients)
}
