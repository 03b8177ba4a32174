package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ProjectFinancial is the per-(project, month) financial rollup written by
// the nightly job. BudgetAmount stays zero until a budgeting source is
// integrated.
type ProjectFinancial struct {
	ID              snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	TenantID        snowflake.ID `gorm:"column:tenant_id;index" json:"tenant_id"`
	ProjectID       snowflake.ID `gorm:"column:project_id;uniqueIndex:idx_fin_project_month" json:"project_id"`
	Month           time.Time    `gorm:"column:month;uniqueIndex:idx_fin_project_month" json:"month"`
	ApprovedCost    int64        `gorm:"column:approved_cost" json:"approved_cost"`
	InvoicedRevenue int64        `gorm:"column:invoiced_revenue" json:"invoiced_revenue"`
	BudgetAmount    int64        `gorm:"column:budget_amount" json:"budget_amount"`
	UpdatedAt       time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (ProjectFinancial) TableName() string {
	return "project_financials"
}

type RollupResult struct {
	Month             time.Time `json:"month"`
	ProjectsProcessed int       `json:"projects_processed"`
}

type Service interface {
	RollupMonth(ctx context.Context, month time.Time) (*RollupResult, error)
}
