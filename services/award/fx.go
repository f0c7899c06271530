package award

import (
	"go.uber.org/fx"
)

var Module = fx.Module("award.service",
	fx.Provide(NewService),
)
