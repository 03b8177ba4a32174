package tenant

import (
	"github.com/smallbiznis/wipline/internal/tenant/domain"
	"github.com/smallbiznis/wipline/internal/tenant/service"
	"github.com/smallbiznis/wipline/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant",
	fx.Provide(repository.ProvideStore[domain.Tenant]),
	fx.Provide(repository.ProvideStore[domain.TenantMember]),
	fx.Provide(service.NewService),
)
