package migration

import (
	"github.com/smallbiznis/wipline/internal/config"
	"github.com/smallbiznis/wipline/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if cfg.BootstrapDefaultTenant {
			return seed.EnsureDefaultTenant(conn)
		}
		return nil
	}),
)
