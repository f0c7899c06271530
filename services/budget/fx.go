package budget

import (
	"go.uber.org/fx"
)

var Module = fx.Module("budget.service",
	fx.Provide(NewService),
)
