package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusSent    InvoiceStatus = "sent"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

// Invoice is a billing document. Amounts are minor currency units;
// TotalAmount = Subtotal + TaxAmount always holds.
type Invoice struct {
	ID           snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	TenantID     snowflake.ID  `gorm:"column:tenant_id;uniqueIndex:idx_invoice_tenant_number" json:"tenant_id"`
	Number       string        `gorm:"column:number;uniqueIndex:idx_invoice_tenant_number" json:"number"`
	ProjectID    snowflake.ID  `gorm:"column:project_id;index" json:"project_id"`
	EngagementID snowflake.ID  `gorm:"column:engagement_id" json:"engagement_id"`
	ClientID     snowflake.ID  `gorm:"column:client_id" json:"client_id"`
	InvoiceDate  time.Time     `gorm:"column:invoice_date" json:"invoice_date"`
	DueDate      time.Time     `gorm:"column:due_date" json:"due_date"`
	Subtotal     int64         `gorm:"column:subtotal" json:"subtotal"`
	TaxRateBps   int64         `gorm:"column:tax_rate_bps" json:"tax_rate_bps"`
	TaxAmount    int64         `gorm:"column:tax_amount" json:"tax_amount"`
	TotalAmount  int64         `gorm:"column:total_amount" json:"total_amount"`
	PaidAmount   int64         `gorm:"column:paid_amount" json:"paid_amount"`
	Status       InvoiceStatus `gorm:"column:status" json:"status"`
	CreatedBy    *string       `gorm:"column:created_by" json:"created_by,omitempty"`
	Notes        string        `gorm:"column:notes" json:"notes"`
	CreatedAt    time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}

// RemainingBalance is what the client still owes.
func (i Invoice) RemainingBalance() int64 {
	return i.TotalAmount - i.PaidAmount
}

// InvoiceLine bills exactly one timesheet entry. The unique index on
// timesheet_entry_id is the database-level guarantee against double billing.
type InvoiceLine struct {
	ID               snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	InvoiceID        snowflake.ID `gorm:"column:invoice_id;index" json:"invoice_id"`
	TenantID         snowflake.ID `gorm:"column:tenant_id" json:"tenant_id"`
	LineNo           int          `gorm:"column:line_no" json:"line_no"`
	Description      string       `gorm:"column:description" json:"description"`
	Quantity         float64      `gorm:"column:quantity" json:"quantity"`
	UnitPrice        int64        `gorm:"column:unit_price" json:"unit_price"`
	LineTotal        int64        `gorm:"column:line_total" json:"line_total"`
	SourceType       string       `gorm:"column:source_type" json:"source_type"`
	TimesheetEntryID snowflake.ID `gorm:"column:timesheet_entry_id;uniqueIndex" json:"timesheet_entry_id"`
	CreatedAt        time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (InvoiceLine) TableName() string {
	return "invoice_lines"
}

const SourceTypeTimesheet = "timesheet"

// InvoiceSequence backs the per-tenant INV-NNNNNN numbering. The row is
// bumped atomically inside the generation transaction.
type InvoiceSequence struct {
	TenantID  snowflake.ID `gorm:"column:tenant_id;primaryKey" json:"tenant_id"`
	LastValue int64        `gorm:"column:last_value" json:"last_value"`
}

func (InvoiceSequence) TableName() string {
	return "invoice_sequences"
}

type GenerateRequest struct {
	ProjectID         snowflake.ID
	InvoiceDate       *time.Time
	DueDate           *time.Time
	TimesheetEntryIDs []snowflake.ID
	Notes             string
}

type InvoiceSummary struct {
	ID            snowflake.ID  `json:"id"`
	Number        string        `json:"number"`
	ProjectID     snowflake.ID  `json:"project_id"`
	ClientID      snowflake.ID  `json:"client_id"`
	InvoiceDate   time.Time     `json:"invoice_date"`
	DueDate       time.Time     `json:"due_date"`
	Subtotal      int64         `json:"subtotal"`
	TaxAmount     int64         `json:"tax_amount"`
	TotalAmount   int64         `json:"total_amount"`
	Status        InvoiceStatus `json:"status"`
	LineCount     int           `json:"line_count"`
	EntriesBilled int           `json:"entries_billed"`
}

type InvoiceDetail struct {
	Invoice Invoice       `json:"invoice"`
	Lines   []InvoiceLine `json:"lines"`
}

type ListInvoicesRequest struct {
	ProjectID *snowflake.ID
	Status    InvoiceStatus
	Limit     int
}

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*InvoiceSummary, error)
	Get(ctx context.Context, id snowflake.ID) (*InvoiceDetail, error)
	List(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

var (
	ErrInvalidTenant             = errors.New("invalid_tenant")
	ErrInvoiceNotFound           = errors.New("invoice_not_found")
	ErrNoBillableWork            = errors.New("no_billable_work")
	ErrInvalidTimesheetEntries   = errors.New("invalid_timesheet_entries")
	ErrTimesheetEntryAlreadyBill = errors.New("timesheet_entry_already_billed")
)
