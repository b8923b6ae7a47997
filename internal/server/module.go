package server

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webim/im-server/config"
)

var Module = fx.Module("server",
	fx.Provide(
		func(cfg *config.Config, log *slog.Logger) *Pool {
			return NewPool(cfg.Pool.Workers, cfg.Pool.QueueSize, log)
		},
		NewRouter,
		NewServer,
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error { return s.Start(ctx) },
			OnStop:  func(ctx context.Context) error { return s.Stop(ctx) },
		})
	}),
)
