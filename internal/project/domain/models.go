package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ProjectStatus string

const (
	ProjectStatusPlanning  ProjectStatus = "planning"
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusOnHold    ProjectStatus = "on_hold"
	ProjectStatusCompleted ProjectStatus = "completed"
)

// Billable reports whether the project participates in WIP aggregation and
// nightly rollups.
func (s ProjectStatus) Billable() bool {
	return s == ProjectStatusPlanning || s == ProjectStatusActive
}

// Client is the invoiced party. Engagements group a client's projects under
// one commercial agreement.
type Client struct {
	ID           snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	TenantID     snowflake.ID `gorm:"column:tenant_id;index" json:"tenant_id"`
	Name         string       `gorm:"column:name" json:"name"`
	BillingEmail string       `gorm:"column:billing_email" json:"billing_email"`
	Address      string       `gorm:"column:address" json:"address"`
	TaxID        string       `gorm:"column:tax_id" json:"tax_id"`
	CreatedAt    time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Client) TableName() string {
	return "clients"
}

type Engagement struct {
	ID        snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	TenantID  snowflake.ID `gorm:"column:tenant_id;index" json:"tenant_id"`
	ClientID  snowflake.ID `gorm:"column:client_id;index" json:"client_id"`
	Name      string       `gorm:"column:name" json:"name"`
	Code      string       `gorm:"column:code" json:"code"`
	CreatedAt time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Engagement) TableName() string {
	return "engagements"
}

type Project struct {
	ID           snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	TenantID     snowflake.ID  `gorm:"column:tenant_id;index" json:"tenant_id"`
	EngagementID snowflake.ID  `gorm:"column:engagement_id;index" json:"engagement_id"`
	Name         string        `gorm:"column:name" json:"name"`
	Code         string        `gorm:"column:code" json:"code"`
	Status       ProjectStatus `gorm:"column:status" json:"status"`
	CreatedAt    time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

var (
	ErrProjectNotFound    = errors.New("project_not_found")
	ErrEngagementNotFound = errors.New("engagement_not_found")
	ErrClientNotFound     = errors.New("client_not_found")
)
