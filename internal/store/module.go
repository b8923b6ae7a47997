package store

import (
	"go.uber.org/fx"
)

var Module = fx.Module("store",
	fx.Provide(
		New,
		fx.Annotate(func(s *Store) *Store { return s }, fx.As(new(UserStore))),
		fx.Annotate(func(s *Store) *Store { return s }, fx.As(new(FriendStore))),
		fx.Annotate(func(s *Store) *Store { return s }, fx.As(new(GroupStore))),
	),
)
