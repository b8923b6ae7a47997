package registry

import (
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		NewRegistry,
		fx.Annotate(
			func(r *Registry) *Registry { return r },
			fx.As(new(Registrar)),
		),
	),
)
