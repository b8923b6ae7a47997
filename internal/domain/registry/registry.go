/*
Package registry tracks every live connection and its authentication state.

Each connection is an isolated Client cell owning its decoder, its inbound
packet mailbox, and the write side of its socket. The Registry maps
connection ids to cells and keeps a second index from authenticated user id
to connection id, which makes it the single source of truth for "is this
user online".

Locking discipline: the registry mutex guards the two maps only. Routing
code snapshots the clients it needs and performs socket writes after the
lock is released, so a stalled peer can never block registration or lookup.
*/
package registry

import (
	"net"
	"sync"

	"github.com/webim/im-server/internal/domain/model"
	"github.com/webim/im-server/internal/protocol"
)

// Registrar is the session-management gateway used by the server and the
// business handlers.
type Registrar interface {
	Add(conn net.Conn, dec *protocol.Decoder) *Client
	Remove(id uint64) *Client
	Get(id uint64) (*Client, bool)
	MarkAuthenticated(id uint64, userID int64, username, nickname string) (displaced *Client)
	FindByUser(userID int64) (*Client, bool)
	IsOnline(userID int64) bool
	Info(id uint64) (model.ClientInfo, bool)
	Authenticated() []*Client
	All() []*Client
	OnlineUsers() []model.OnlineUser
	Len() int
}

// Registry implements Registrar with two mutex-guarded indexes.
type Registry struct {
	mu      sync.RWMutex
	clients map[uint64]*Client
	users   map[int64]uint64 // user id -> connection id
	nextID  uint64
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[uint64]*Client),
		users:   make(map[int64]uint64),
	}
}

// Add registers a freshly accepted connection and returns its cell.
func (r *Registry) Add(conn net.Conn, dec *protocol.Decoder) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c := newClient(r.nextID, conn, dec)
	r.clients[c.id] = c
	return c
}

// Remove drops the connection from both indexes and returns the removed cell
// so the caller can close it outside the lock. Returns nil when the id is
// already gone.
func (r *Registry) Remove(id uint64) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil
	}
	delete(r.clients, id)
	if uid, authed := c.Identity(); authed && r.users[uid] == id {
		delete(r.users, uid)
	}
	return c
}

func (r *Registry) Get(id uint64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// MarkAuthenticated binds a user identity to the connection. When the user
// already has a live session on another connection, that session is unbound
// and returned so the caller can close it; the newest login wins.
func (r *Registry) MarkAuthenticated(id uint64, userID int64, username, nickname string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil
	}

	var displaced *Client
	if prevID, ok := r.users[userID]; ok && prevID != id {
		displaced = r.clients[prevID]
	}
	c.markAuthenticated(userID, username, nickname)
	r.users[userID] = id
	return displaced
}

func (r *Registry) FindByUser(userID int64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	c, ok := r.clients[id]
	return c, ok
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

func (r *Registry) Info(id uint64) (model.ClientInfo, bool) {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return model.ClientInfo{}, false
	}
	return c.Info(), true
}

// Authenticated snapshots every logged-in client. Callers write to the
// returned cells after the registry lock is released.
func (r *Registry) Authenticated() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.users))
	for _, id := range r.users {
		if c, ok := r.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// All snapshots every live connection, authenticated or not.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// OnlineUsers lists the identities of every authenticated connection.
func (r *Registry) OnlineUsers() []model.OnlineUser {
	clients := r.Authenticated()
	out := make([]model.OnlineUser, 0, len(clients))
	for _, c := range clients {
		info := c.Info()
		out = append(out, model.OnlineUser{
			UserID:   info.UserID,
			Username: info.Username,
			Nickname: info.Nickname,
			Online:   true,
		})
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
