// Package server owns the TCP listener, the per-connection read loops, and
// the worker pool that executes packet handlers. Frames from one connection
// are handled in arrival order; frames from different connections share the
// pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/webim/im-server/config"
	"github.com/webim/im-server/internal/domain/model"
	"github.com/webim/im-server/internal/domain/registry"
	"github.com/webim/im-server/internal/metrics"
	"github.com/webim/im-server/internal/protocol"
)

// PacketHandler is the business layer the server dispatches decoded packets
// to. Implementations run on pool workers and must be safe for concurrent
// use across connections.
type PacketHandler interface {
	Handle(ctx context.Context, c *registry.Client, pkt protocol.Packet)
	// Disconnected runs after a connection leaves the registry, for session
	// cleanup and presence notifications.
	Disconnected(ctx context.Context, info model.ClientInfo)
}

// Server accepts client connections and pumps their byte streams through
// per-connection decoders into the worker pool.
type Server struct {
	cfg     config.ListenConfig
	reg     registry.Registrar
	pool    *Pool
	handler PacketHandler
	met     *metrics.Metrics
	log     *slog.Logger

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(
	cfg *config.Config,
	reg registry.Registrar,
	pool *Pool,
	handler PacketHandler,
	met *metrics.Metrics,
	log *slog.Logger,
) *Server {
	return &Server{
		cfg:     cfg.Listen,
		reg:     reg,
		pool:    pool,
		handler: handler,
		met:     met,
		log:     log,
	}
}

// Start binds the listener and launches the accept loop. It fails fast when
// the port cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	s.ln = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.pool.Start()

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener, disconnects every client, and drains the pool.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, c := range s.reg.All() {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("shutdown timed out waiting for read loops")
	}

	s.pool.Stop()
	s.log.Info("server stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}

		c := s.reg.Add(conn, protocol.NewDecoder(s.log))
		s.met.ConnectionsTotal.Inc()
		s.met.ConnectionsOpen.Inc()
		s.log.Info("client connected",
			"conn_id", c.ID(), "remote", conn.RemoteAddr().String())

		s.wg.Add(1)
		go s.readLoop(c)
	}
}

// readLoop owns the connection's decoder. Decoded packets go into the
// client's mailbox; the first packet of a burst schedules a drain task on
// the pool.
func (s *Server) readLoop(c *registry.Client) {
	defer s.wg.Done()
	defer s.teardown(c)

	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := c.Conn().Read(buf)
		if n > 0 {
			packets := c.Decoder().Feed(buf[:n])
			for _, pkt := range packets {
				s.met.FramesDecoded.Inc()
				if c.Enqueue(pkt) {
					s.pool.Submit(func() { s.drain(c) })
				}
			}
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Info("client disconnected",
					"conn_id", c.ID(), "error", err)
			}
			return
		}
	}
}

// drain handles mailbox packets until it is empty. At most one drain task
// per client is in flight, enforced by the mailbox's draining flag.
func (s *Server) drain(c *registry.Client) {
	for {
		pkt, ok := c.Next()
		if !ok {
			return
		}
		s.handler.Handle(s.ctx, c, pkt)
	}
}

func (s *Server) teardown(c *registry.Client) {
	removed := s.reg.Remove(c.ID())
	c.Close()
	if removed == nil {
		// Already removed by a displacing login; the closer ran cleanup.
		return
	}
	s.met.ConnectionsOpen.Dec()
	info := c.Info()
	s.log.Info("connection closed",
		"conn_id", info.ConnID, "user_id", info.UserID, "remote", info.RemoteAddr)
	s.pool.Submit(func() { s.handler.Disconnected(s.ctx, info) })
}
