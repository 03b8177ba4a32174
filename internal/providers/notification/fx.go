package notification

import (
	"github.com/smallbiznis/wipline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.notification",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Port {
	if cfg.SlackWebhookURL == "" {
		return &NoOpPort{}
	}
	return NewSlack(cfg.SlackWebhookURL, log)
}
