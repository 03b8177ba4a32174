package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type EntryStatus string

const (
	EntryStatusDraft     EntryStatus = "draft"
	EntryStatusSubmitted EntryStatus = "submitted"
	EntryStatusApproved  EntryStatus = "approved"
)

// TimesheetEntry is one employee's logged time against a project on a date.
// Amounts are minor currency units. InvoiceLineID nil means unbilled; once
// set the entry is immutable and must never be billed again.
type TimesheetEntry struct {
	ID             snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	TenantID       snowflake.ID  `gorm:"column:tenant_id;index" json:"tenant_id"`
	ProjectID      snowflake.ID  `gorm:"column:project_id;index" json:"project_id"`
	UserID         snowflake.ID  `gorm:"column:user_id" json:"user_id"`
	EntryDate      time.Time     `gorm:"column:entry_date" json:"entry_date"`
	Hours          float64       `gorm:"column:hours" json:"hours"`
	BillRate       int64         `gorm:"column:bill_rate" json:"bill_rate"`
	BillableAmount int64         `gorm:"column:billable_amount" json:"billable_amount"`
	CostAmount     int64         `gorm:"column:cost_amount" json:"cost_amount"`
	Status         EntryStatus   `gorm:"column:status" json:"status"`
	Billable       bool          `gorm:"column:billable" json:"billable"`
	InvoiceLineID  *snowflake.ID `gorm:"column:invoice_line_id" json:"invoice_line_id,omitempty"`
	Description    string        `gorm:"column:description" json:"description"`
	CreatedAt      time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (TimesheetEntry) TableName() string {
	return "timesheet_entries"
}
