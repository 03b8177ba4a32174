package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/wipline/internal/tenant/domain"
	"gorm.io/gorm"
)

const (
	defaultTenantName = "Main Firm"
	defaultTenantSlug = "main-firm"
	defaultCurrency   = "PHP"
)

// EnsureDefaultTenant seeds the first tenant for local and self-hosted
// setups. An operator then mints the first API token directly against
// the database.
func EnsureDefaultTenant(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing tenantdomain.Tenant
		err := tx.WithContext(ctx).
			Where("slug = ?", defaultTenantSlug).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		tenant := tenantdomain.Tenant{
			ID:        node.Generate(),
			Name:      defaultTenantName,
			Slug:      defaultTenantSlug,
			Currency:  defaultCurrency,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&tenant).Error
	})
}
