// Package realtime maps user identities to their live connections and fans
// change notifications out to exactly that set.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"todo-sync/domain"
)

const connBufferSize = 8

// Conn is one live realtime session. The transport layer owns the socket;
// the registry only owns the existence mapping and the event channel.
type Conn struct {
	ID     string
	UserID string
	Opened time.Time

	events chan domain.ChangeEvent
}

// NewConn builds a connection for an already-authenticated user.
func NewConn(userID string) *Conn {
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		Opened: time.Now(),
		events: make(chan domain.ChangeEvent, connBufferSize),
	}
}

// Events exposes the push channel for the transport to drain.
func (c *Conn) Events() <-chan domain.ChangeEvent {
	return c.events
}

// push delivers ev without blocking. A full buffer drops the event: the
// receiver re-fetches on every event anyway, so a dropped duplicate only
// elides a redundant refresh.
func (c *Conn) push(ev domain.ChangeEvent) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Registry tracks which connections belong to which user. It holds no
// persistent state: a process restart drops every socket, so an empty
// registry is always the correct starting point.
type Registry struct {
	mu    sync.Mutex
	conns map[string]map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[string]*Conn)}
}

// Register adds c to its user's connection set. Registering the same
// connection twice is a no-op.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.conns[c.UserID]
	if set == nil {
		set = make(map[string]*Conn)
		r.conns[c.UserID] = set
	}
	set[c.ID] = c
}

// Unregister removes the connection and drops the user entry once the last
// connection is gone, so permanently departed users cost no memory.
func (r *Registry) Unregister(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, userID)
	}
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsFor(userID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.conns[userID]
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}
