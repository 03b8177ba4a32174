package providers

import (
	"github.com/smallbiznis/wipline/internal/providers/notification"
	"github.com/smallbiznis/wipline/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	notification.Module,
	pdf.Module,
)
