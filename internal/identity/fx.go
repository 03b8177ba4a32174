package identity

import (
	"github.com/smallbiznis/wipline/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity",
	fx.Provide(service.NewService),
)
