package room

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/instant-hq/instant/internal/logging"
	"github.com/instant-hq/instant/internal/metrics"
	"github.com/instant-hq/instant/internal/uid"
)

// Group is the process-wide registry of live rooms. Rooms are created lazily
// on first join and deleted, under the group lock, when the last member
// leaves. Lock order is always Group before Room.
type Group struct {
	alloc *uid.Allocator

	mu    sync.Mutex
	rooms map[string]*Room
	null  *Room
}

// NewGroup creates an empty registry sharing one ID allocator.
func NewGroup(alloc *uid.Allocator) *Group {
	g := &Group{
		alloc: alloc,
		rooms: make(map[string]*Room),
	}
	g.null = newRoom("", alloc, nil)
	return g
}

// Allocator exposes the shared ID allocator.
func (g *Group) Allocator() *uid.Allocator { return g.alloc }

// NullRoom returns the singleton room of unrouted clients.
func (g *Group) NullRoom() *Room { return g.null }

// Lookup returns the live room with the given name, if any. The null room is
// never returned.
func (g *Group) Lookup(name string) (*Room, bool) {
	if name == "" {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[name]
	return r, ok
}

// Join moves the client into the named room, creating it on first join. It
// is a no-op if the client is already there; otherwise the client leaves its
// current room first, so the old room's left presence precedes the new
// room's joined presence.
func (g *Group) Join(c *Client, name string) *Room {
	if cur := c.Room(); cur != nil {
		if cur.Name() == name {
			return cur
		}
		g.Leave(c)
	}

	g.mu.Lock()
	r, ok := g.rooms[name]
	if !ok {
		logging.Info(context.Background(), "Creating room", zap.String("room", name))
		r = newRoom(name, g.alloc, g.removeIfEmpty)
		g.rooms[name] = r
		metrics.ActiveRooms.Inc()
	}

	r.mu.Lock()
	r.addLocked(c)
	r.mu.Unlock()
	g.mu.Unlock()

	return r
}

// JoinNull places an unrouted client into the null room. No presence is
// emitted there.
func (g *Group) JoinNull(c *Client) *Room {
	g.null.mu.Lock()
	g.null.members[c.ID()] = c
	g.null.mu.Unlock()
	c.setRoom(g.null)
	return g.null
}

// Leave removes the client from its current room. An emptied named room is
// deleted from the registry in the same critical section.
func (g *Group) Leave(c *Client) {
	r := c.Room()
	if r == nil {
		return
	}

	g.mu.Lock()
	r.mu.Lock()
	empty := r.removeLocked(c)
	r.mu.Unlock()
	if empty && !r.IsNull() {
		g.deleteLocked(r)
	}
	g.mu.Unlock()
}

// removeIfEmpty deletes the named room if it is still registered and empty.
// It runs off the broadcast path, where only the room lock was held.
func (g *Group) removeIfEmpty(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[name]
	if !ok {
		return
	}
	r.mu.Lock()
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty {
		g.deleteLocked(r)
	}
}

// deleteLocked requires g.mu.
func (g *Group) deleteLocked(r *Room) {
	delete(g.rooms, r.name)
	metrics.ActiveRooms.Dec()
	logging.Info(context.Background(), "Removed empty room", zap.String("room", r.name))
}

// Counts returns the number of live named rooms and total connected clients.
func (g *Group) Counts() (rooms int, clients int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rooms = len(g.rooms)
	for _, r := range g.rooms {
		clients += r.MemberCount()
	}
	clients += g.null.MemberCount()
	return rooms, clients
}

// Shutdown sends a going-away close to every connected client. The caller
// waits for the write pumps to flush within its own deadline.
func (g *Group) Shutdown(ctx context.Context) {
	g.mu.Lock()
	targets := make([]*Client, 0)
	for _, r := range g.rooms {
		r.mu.Lock()
		for _, c := range r.members {
			targets = append(targets, c)
		}
		r.mu.Unlock()
	}
	g.null.mu.Lock()
	for _, c := range g.null.members {
		targets = append(targets, c)
	}
	g.null.mu.Unlock()
	g.mu.Unlock()

	logging.Info(ctx, "Closing all client connections", zap.Int("count", len(targets)))
	for _, c := range targets {
		c.Disconnect(websocket.CloseGoingAway, "server shutting down")
	}
}
