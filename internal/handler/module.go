package handler

import (
	"go.uber.org/fx"

	"github.com/webim/im-server/internal/domain/registry"
	"github.com/webim/im-server/internal/server"
)

// gateway glues the router and the registry into the single surface the
// handlers see.
type gateway struct {
	*server.Router
	registry.Registrar
}

func NewGateway(rt *server.Router, reg registry.Registrar) Gateway {
	return &gateway{Router: rt, Registrar: reg}
}

var Module = fx.Module("handler",
	fx.Provide(
		NewGateway,
		fx.Annotate(
			New,
			fx.As(new(server.PacketHandler)),
		),
	),
)
