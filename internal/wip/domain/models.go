package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// WipSnapshot is the point-in-time unbilled work position of one project.
// At most one row exists per (project, as-of date); recalculation overwrites.
type WipSnapshot struct {
	ID              snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	TenantID        snowflake.ID `gorm:"column:tenant_id;index" json:"tenant_id"`
	ProjectID       snowflake.ID `gorm:"column:project_id;uniqueIndex:idx_wip_project_date" json:"project_id"`
	AsOfDate        time.Time    `gorm:"column:as_of_date;uniqueIndex:idx_wip_project_date" json:"as_of_date"`
	TimeWip         int64        `gorm:"column:time_wip" json:"time_wip"`
	ExpenseWip      int64        `gorm:"column:expense_wip" json:"expense_wip"`
	FeeWip          int64        `gorm:"column:fee_wip" json:"fee_wip"`
	OldestEntryDate *time.Time   `gorm:"column:oldest_entry_date" json:"oldest_entry_date,omitempty"`
	AgeDays         int          `gorm:"column:age_days" json:"age_days"`
	ReadyToInvoice  bool         `gorm:"column:ready_to_invoice" json:"ready_to_invoice"`
	UpdatedAt       time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (WipSnapshot) TableName() string {
	return "wip_snapshots"
}

// TotalWip is the snapshot's combined unbilled position. Expense and fee
// sources are not integrated yet and always contribute zero.
func (s WipSnapshot) TotalWip() int64 {
	return s.TimeWip + s.ExpenseWip + s.FeeWip
}

type CalculateRequest struct {
	ProjectID *snowflake.ID
	AsOfDate  *time.Time
}

// ProjectFailure records one project whose aggregation failed. The batch
// continues past it.
type ProjectFailure struct {
	ProjectID snowflake.ID `json:"project_id"`
	Reason    string       `json:"reason"`
}

type CalculateResponse struct {
	CalculationDate     time.Time        `json:"calculation_date"`
	ProjectsProcessed   int              `json:"projects_processed"`
	TotalWip            int64            `json:"total_wip"`
	ReadyToInvoiceCount int              `json:"ready_to_invoice_count"`
	Results             []WipSnapshot    `json:"results"`
	Failures            []ProjectFailure `json:"failures,omitempty"`
}

type ListSnapshotsRequest struct {
	ProjectID *snowflake.ID
	Limit     int
}

type Service interface {
	CalculateWip(ctx context.Context, req CalculateRequest) (*CalculateResponse, error)
	ListSnapshots(ctx context.Context, req ListSnapshotsRequest) ([]WipSnapshot, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
)
