package cmd

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"

	"github.com/webim/im-server/config"
	"github.com/webim/im-server/infra/admin"
	"github.com/webim/im-server/internal/domain/registry"
	"github.com/webim/im-server/internal/handler"
	"github.com/webim/im-server/internal/metrics"
	"github.com/webim/im-server/internal/server"
	"github.com/webim/im-server/internal/store"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			func(p *server.Pool) *metrics.Metrics {
				return metrics.New(p.QueueDepth)
			},
		),
		registry.Module,
		store.Module,
		server.Module,
		handler.Module,
		admin.Module,
	)
}

// ProvideLogger builds the process-wide slog logger from config and installs
// it as the default.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(h).With("service", ServiceName)
	slog.SetDefault(log)
	return log
}
