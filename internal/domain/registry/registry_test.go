package registry

import (
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webim/im-server/internal/protocol"
)

func newTestClient(t *testing.T, r *Registry) (*Client, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return r.Add(server, protocol.NewDecoder(nil)), client
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	c, _ := newTestClient(t, r)

	require.Equal(t, 1, r.Len())
	got, ok := r.Get(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got)

	removed := r.Remove(c.ID())
	assert.Same(t, c, removed)
	assert.Zero(t, r.Len())
	assert.Nil(t, r.Remove(c.ID()))
}

func TestRegistryConnIDsMonotonic(t *testing.T) {
	r := NewRegistry()
	a, _ := newTestClient(t, r)
	b, _ := newTestClient(t, r)
	assert.Greater(t, b.ID(), a.ID())
}

func TestMarkAuthenticated(t *testing.T) {
	r := NewRegistry()
	c, _ := newTestClient(t, r)

	_, authed := c.Identity()
	require.False(t, authed)
	assert.False(t, r.IsOnline(42))

	displaced := r.MarkAuthenticated(c.ID(), 42, "alice", "Al")
	assert.Nil(t, displaced)
	assert.True(t, r.IsOnline(42))

	uid, authed := c.Identity()
	require.True(t, authed)
	assert.Equal(t, int64(42), uid)

	found, ok := r.FindByUser(42)
	require.True(t, ok)
	assert.Same(t, c, found)

	info, ok := r.Info(c.ID())
	require.True(t, ok)
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, "Al", info.Nickname)
	assert.True(t, info.Authenticated)
}

func TestMarkAuthenticatedDisplacesPreviousSession(t *testing.T) {
	r := NewRegistry()
	old, _ := newTestClient(t, r)
	fresh, _ := newTestClient(t, r)

	require.Nil(t, r.MarkAuthenticated(old.ID(), 7, "bob", "Bob"))
	displaced := r.MarkAuthenticated(fresh.ID(), 7, "bob", "Bob")
	require.Same(t, old, displaced)

	// The newest login owns the user index.
	found, ok := r.FindByUser(7)
	require.True(t, ok)
	assert.Same(t, fresh, found)

	// Removing the displaced connection must not evict the new session.
	r.Remove(old.ID())
	assert.True(t, r.IsOnline(7))
}

func TestRemoveClearsOnlineState(t *testing.T) {
	r := NewRegistry()
	c, _ := newTestClient(t, r)
	r.MarkAuthenticated(c.ID(), 9, "carol", "")

	r.Remove(c.ID())
	assert.False(t, r.IsOnline(9))
	_, ok := r.FindByUser(9)
	assert.False(t, ok)
}

func TestOnlineUsersListsAuthenticatedOnly(t *testing.T) {
	r := NewRegistry()
	a, _ := newTestClient(t, r)
	newTestClient(t, r) // anonymous, must not appear
	r.MarkAuthenticated(a.ID(), 1, "alice", "Al")

	users := r.OnlineUsers()
	require.Len(t, users, 1)
	assert.Equal(t, int64(1), users[0].UserID)
	assert.Equal(t, "Al", users[0].Nickname)
	assert.True(t, users[0].Online)

	assert.Len(t, r.Authenticated(), 1)
	assert.Len(t, r.All(), 2)
}

func TestClientMailboxOrderAndDrainFlag(t *testing.T) {
	r := NewRegistry()
	c, _ := newTestClient(t, r)

	p1 := protocol.Packet{Type: protocol.MsgHeartbeat}
	p2 := protocol.Packet{Type: protocol.MsgLogout}

	// First enqueue claims the drain; the second piggybacks on it.
	assert.True(t, c.Enqueue(p1))
	assert.False(t, c.Enqueue(p2))

	got, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, p1.Type, got.Type)
	got, ok = c.Next()
	require.True(t, ok)
	assert.Equal(t, p2.Type, got.Type)

	_, ok = c.Next()
	require.False(t, ok)

	// Drain finished, next packet claims a fresh drain.
	assert.True(t, c.Enqueue(p1))
}

func TestClientWriteAndCloseIdempotent(t *testing.T) {
	r := NewRegistry()
	c, peer := newTestClient(t, r)

	frame := protocol.Encode(protocol.MsgHeartbeatResponse, nil)
	done := make(chan error, 1)
	go func() { done <- c.Write(frame) }()

	buf := make([]byte, len(frame))
	_, err := io.ReadFull(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, frame, buf)
	require.NoError(t, <-done)

	c.Close()
	c.Close() // second close is a no-op
	assert.Error(t, c.Write(frame))
}

// shortWriteConn accepts four bytes of the first write, fails it with a
// deadline error, and takes every later write in full.
type shortWriteConn struct {
	mu     sync.Mutex
	writes [][]byte
	failed bool
}

func (c *shortWriteConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.failed {
		c.failed = true
		n := 4
		if len(b) < n {
			n = len(b)
		}
		c.writes = append(c.writes, append([]byte(nil), b[:n]...))
		return n, os.ErrDeadlineExceeded
	}
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *shortWriteConn) Read([]byte) (int, error)         { return 0, io.EOF }
func (c *shortWriteConn) Close() error                     { return nil }
func (c *shortWriteConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *shortWriteConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *shortWriteConn) SetDeadline(time.Time) error      { return nil }
func (c *shortWriteConn) SetReadDeadline(time.Time) error  { return nil }
func (c *shortWriteConn) SetWriteDeadline(time.Time) error { return nil }

func TestClientWriteRetriesShortWriteOnce(t *testing.T) {
	conn := &shortWriteConn{}
	r := NewRegistry()
	c := r.Add(conn, protocol.NewDecoder(nil))

	frame := protocol.Encode(protocol.MsgHeartbeatResponse, []byte(`{"timestamp":1}`))
	require.NoError(t, c.Write(frame))

	// The remainder after the interrupted write went out in one retry.
	require.Len(t, conn.writes, 2)
	assert.Equal(t, frame[:4], conn.writes[0])
	assert.Equal(t, frame[4:], conn.writes[1])
}
