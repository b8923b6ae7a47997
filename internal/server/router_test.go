package server

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webim/im-server/internal/domain/registry"
	"github.com/webim/im-server/internal/metrics"
	"github.com/webim/im-server/internal/protocol"
)

// pipeClient registers a piped connection and pumps everything the router
// writes into a channel of decoded packets.
func pipeClient(t *testing.T, reg *registry.Registry) (*registry.Client, <-chan protocol.Packet) {
	t.Helper()
	peer, conn := net.Pipe()
	c := reg.Add(conn, protocol.NewDecoder(quietLogger()))

	out := make(chan protocol.Packet, 16)
	go func() {
		dec := protocol.NewDecoder(quietLogger())
		buf := make([]byte, 4096)
		for {
			n, err := peer.Read(buf)
			if n > 0 {
				for _, pkt := range dec.Feed(buf[:n]) {
					out <- pkt
				}
			}
			if err != nil {
				close(out)
				return
			}
		}
	}()
	t.Cleanup(func() {
		c.Close()
		_ = peer.Close()
	})
	return c, out
}

func recvPacket(t *testing.T, ch <-chan protocol.Packet) protocol.Packet {
	t.Helper()
	select {
	case pkt, ok := <-ch:
		require.True(t, ok, "connection closed before a packet arrived")
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a packet")
		return protocol.Packet{}
	}
}

func newTestRouter(reg *registry.Registry) *Router {
	return NewRouter(reg, metrics.New(nil), quietLogger())
}

func TestRouterSendToConn(t *testing.T) {
	reg := registry.NewRegistry()
	rt := newTestRouter(reg)

	c, out := pipeClient(t, reg)
	ok := rt.SendToConn(c.ID(), protocol.MsgHeartbeatResponse, []byte(`{"timestamp":1}`))
	require.True(t, ok)

	pkt := recvPacket(t, out)
	assert.Equal(t, protocol.MsgHeartbeatResponse, pkt.Type)

	assert.False(t, rt.SendToConn(c.ID()+99, protocol.MsgHeartbeatResponse, nil))
}

func TestRouterClosesConnectionOnWriteFailure(t *testing.T) {
	reg := registry.NewRegistry()
	rt := newTestRouter(reg)

	peer, conn := net.Pipe()
	c := reg.Add(conn, protocol.NewDecoder(quietLogger()))
	require.NoError(t, peer.Close())

	require.False(t, rt.SendToClient(c, protocol.MsgReceiveMessage, []byte(`{}`)))

	// The failed write closed the local end, not just observed the peer's:
	// a local read fails with ErrClosedPipe rather than EOF.
	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestRouterSendToUser(t *testing.T) {
	reg := registry.NewRegistry()
	rt := newTestRouter(reg)

	c, out := pipeClient(t, reg)
	reg.MarkAuthenticated(c.ID(), 7, "alice", "")

	ok := rt.SendToUser(7, protocol.MsgReceiveMessage, []byte(`{"content":"hi"}`))
	require.True(t, ok)

	pkt := recvPacket(t, out)
	assert.Equal(t, protocol.MsgReceiveMessage, pkt.Type)
	assert.JSONEq(t, `{"content":"hi"}`, string(pkt.Payload))

	assert.False(t, rt.SendToUser(99, protocol.MsgReceiveMessage, nil))
}

func TestRouterSendToUsersCountsDeliveries(t *testing.T) {
	reg := registry.NewRegistry()
	rt := newTestRouter(reg)

	c1, out1 := pipeClient(t, reg)
	reg.MarkAuthenticated(c1.ID(), 1, "alice", "")
	c2, out2 := pipeClient(t, reg)
	reg.MarkAuthenticated(c2.ID(), 2, "bob", "")

	// User 3 is offline; the fan-out only counts the two live sessions.
	n := rt.SendToUsers([]int64{1, 2, 3}, protocol.MsgReceiveMessage, []byte(`{}`))
	assert.Equal(t, 2, n)
	recvPacket(t, out1)
	recvPacket(t, out2)
}

func TestRouterBroadcastSkipsSender(t *testing.T) {
	reg := registry.NewRegistry()
	rt := newTestRouter(reg)

	c1, out1 := pipeClient(t, reg)
	reg.MarkAuthenticated(c1.ID(), 1, "alice", "")
	c2, out2 := pipeClient(t, reg)
	reg.MarkAuthenticated(c2.ID(), 2, "bob", "")
	pipeClient(t, reg) // anonymous connection, never broadcast to

	n := rt.Broadcast(c1.ID(), protocol.MsgReceiveMessage, []byte(`{}`))
	assert.Equal(t, 1, n)
	recvPacket(t, out2)

	select {
	case pkt := <-out1:
		t.Fatalf("sender received its own broadcast: %+v", pkt)
	case <-time.After(100 * time.Millisecond):
	}
}
