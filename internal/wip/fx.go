package wip

import (
	"github.com/smallbiznis/wipline/internal/wip/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wip",
	fx.Provide(service.NewService),
)
