// Package admin serves the operational HTTP endpoints: Prometheus metrics
// and a database health probe. It binds a separate port from the client
// listener and is optional.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webim/im-server/config"
	"github.com/webim/im-server/internal/metrics"
	"github.com/webim/im-server/internal/store"
)

type Server struct {
	cfg config.AdminConfig
	srv *http.Server
	log *slog.Logger
}

func NewServer(cfg *config.Config, met *metrics.Metrics, st *store.Store, log *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(met.Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		cfg: cfg.Admin,
		srv: &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start binds the admin listener in the background. Disabled via config.
func (s *Server) Start(_ context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	go func() {
		s.log.Info("admin server listening", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server failed", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
