package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tenant is an accounting firm (or business unit) whose projects, timesheets
// and invoices are fully isolated from every other tenant.
type Tenant struct {
	ID        snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	Name      string       `gorm:"column:name" json:"name"`
	Slug      string       `gorm:"column:slug;uniqueIndex" json:"slug"`
	Currency  string       `gorm:"column:currency" json:"currency"`
	CreatedAt time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenants"
}

// TenantMember binds a user to a tenant with a finance role.
type TenantMember struct {
	ID        snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	TenantID  snowflake.ID `gorm:"column:tenant_id;index" json:"tenant_id"`
	UserID    snowflake.ID `gorm:"column:user_id" json:"user_id"`
	Role      string       `gorm:"column:role" json:"role"`
	CreatedAt time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (TenantMember) TableName() string {
	return "tenant_members"
}
