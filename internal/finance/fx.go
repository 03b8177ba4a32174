package finance

import (
	"github.com/smallbiznis/wipline/internal/finance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("finance",
	fx.Provide(service.NewService),
)
