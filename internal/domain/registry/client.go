package registry

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webim/im-server/internal/domain/model"
	"github.com/webim/im-server/internal/protocol"
)

// writeTimeout bounds a single socket write so one stalled consumer cannot
// hold a worker goroutine hostage.
const writeTimeout = 5 * time.Second

// Client is the per-connection delivery unit. It owns the connection's
// decoder, its inbound packet mailbox, and the write side of the socket.
//
// The mailbox decouples the read loop from handler execution: the read loop
// appends decoded packets, and at most one worker at a time drains them, so
// packets from one connection are always handled in arrival order even though
// handlers run on a shared pool.
type Client struct {
	id        uint64
	session   uuid.UUID
	conn      net.Conn
	dec       *protocol.Decoder
	createdAt time.Time

	mu       sync.Mutex
	queue    []protocol.Packet
	draining bool

	// Identity, set once by MarkAuthenticated under mu.
	authenticated bool
	userID        int64
	username      string
	nickname      string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newClient(id uint64, conn net.Conn, dec *protocol.Decoder) *Client {
	return &Client{
		id:        id,
		session:   uuid.New(),
		conn:      conn,
		dec:       dec,
		createdAt: time.Now(),
	}
}

func (c *Client) ID() uint64                 { return c.id }
func (c *Client) SessionID() uuid.UUID       { return c.session }
func (c *Client) Decoder() *protocol.Decoder { return c.dec }
func (c *Client) Conn() net.Conn             { return c.conn }

// Enqueue appends a decoded packet to the mailbox. It returns true when the
// caller must schedule a drain task: exactly one drain is in flight per
// client, so ordering holds across pool workers.
func (c *Client) Enqueue(p protocol.Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, p)
	if c.draining {
		return false
	}
	c.draining = true
	return true
}

// Next pops the mailbox head. When the mailbox is empty it clears the
// in-flight flag and reports false, ending the current drain task.
func (c *Client) Next() (protocol.Packet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		c.draining = false
		return protocol.Packet{}, false
	}
	p := c.queue[0]
	c.queue = c.queue[1:]
	return p, true
}

// Write sends one encoded frame on the socket. Concurrent writers (handler
// response, broadcast fan-out) are serialized by writeMu so frames never
// interleave. A short write gets one retry for the remainder under a fresh
// deadline; anything beyond that is fatal and the caller closes the
// connection, since the peer now holds a torn frame.
func (c *Client) Write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	n, err := c.conn.Write(frame)
	if err == nil || n == 0 || n >= len(frame) {
		return err
	}
	if derr := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); derr != nil {
		return err
	}
	if _, rerr := c.conn.Write(frame[n:]); rerr != nil {
		return rerr
	}
	return nil
}

// Close tears the connection down exactly once. Safe to call from the read
// loop, the registry, and shutdown concurrently.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func (c *Client) markAuthenticated(userID int64, username, nickname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.userID = userID
	c.username = username
	c.nickname = nickname
}

// Identity returns the authenticated user id, or false while the connection
// is still anonymous.
func (c *Client) Identity() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.authenticated
}

// Info snapshots the client's registry state.
func (c *Client) Info() model.ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.ClientInfo{
		ConnID:        c.id,
		SessionID:     c.session.String(),
		RemoteAddr:    c.conn.RemoteAddr().String(),
		ConnectedAt:   c.createdAt,
		Authenticated: c.authenticated,
		UserID:        c.userID,
		Username:      c.username,
		Nickname:      c.nickname,
	}
}
