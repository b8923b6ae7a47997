package server

import (
	"log/slog"

	"github.com/webim/im-server/internal/domain/registry"
	"github.com/webim/im-server/internal/metrics"
	"github.com/webim/im-server/internal/protocol"
)

// Router delivers encoded frames to connections. All routing methods follow
// the collect-then-send discipline: registry lookups run under the registry
// lock, socket writes never do.
type Router struct {
	reg registry.Registrar
	met *metrics.Metrics
	log *slog.Logger
}

func NewRouter(reg registry.Registrar, met *metrics.Metrics, log *slog.Logger) *Router {
	return &Router{reg: reg, met: met, log: log}
}

// SendToClient writes one frame to a specific cell. A write failure is fatal
// for the connection: the cell is closed here and the read loop performs the
// registry teardown, so a stalled peer cannot stay online eating write
// deadlines.
func (rt *Router) SendToClient(c *registry.Client, t protocol.MsgType, payload []byte) bool {
	frame := protocol.Encode(t, payload)
	if err := c.Write(frame); err != nil {
		rt.met.FramesDropped.Inc()
		rt.log.Warn("frame write failed, closing connection",
			"conn_id", c.ID(), "type", uint16(t), "error", err)
		c.Close()
		return false
	}
	rt.met.FramesSent.Inc()
	return true
}

// SendToConn routes a frame by connection id.
func (rt *Router) SendToConn(connID uint64, t protocol.MsgType, payload []byte) bool {
	c, ok := rt.reg.Get(connID)
	if !ok {
		return false
	}
	rt.met.RoutedMessages.WithLabelValues("conn").Inc()
	return rt.SendToClient(c, t, payload)
}

// SendToUser routes a frame to the user's live connection. Returns false
// when the user is offline.
func (rt *Router) SendToUser(userID int64, t protocol.MsgType, payload []byte) bool {
	c, ok := rt.reg.FindByUser(userID)
	if !ok {
		return false
	}
	rt.met.RoutedMessages.WithLabelValues("user").Inc()
	return rt.SendToClient(c, t, payload)
}

// SendToUsers fans one frame out to every listed user that is online and
// returns how many deliveries succeeded. The frame is encoded once.
func (rt *Router) SendToUsers(userIDs []int64, t protocol.MsgType, payload []byte) int {
	frame := protocol.Encode(t, payload)
	var targets []*registry.Client
	for _, uid := range userIDs {
		if c, ok := rt.reg.FindByUser(uid); ok {
			targets = append(targets, c)
		}
	}

	delivered := 0
	for _, c := range targets {
		if err := c.Write(frame); err != nil {
			rt.met.FramesDropped.Inc()
			c.Close()
			continue
		}
		rt.met.FramesSent.Inc()
		delivered++
	}
	if delivered > 0 {
		rt.met.RoutedMessages.WithLabelValues("fanout").Add(float64(delivered))
	}
	return delivered
}

// Broadcast sends one frame to every authenticated connection except the
// given connection id (0 excludes nothing).
func (rt *Router) Broadcast(except uint64, t protocol.MsgType, payload []byte) int {
	frame := protocol.Encode(t, payload)
	delivered := 0
	for _, c := range rt.reg.Authenticated() {
		if c.ID() == except {
			continue
		}
		if err := c.Write(frame); err != nil {
			rt.met.FramesDropped.Inc()
			c.Close()
			continue
		}
		rt.met.FramesSent.Inc()
		delivered++
	}
	if delivered > 0 {
		rt.met.RoutedMessages.WithLabelValues("broadcast").Add(float64(delivered))
	}
	return delivered
}
