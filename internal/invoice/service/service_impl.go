package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/wipline/internal/audit/domain"
	"github.com/smallbiznis/wipline/internal/clock"
	"github.com/smallbiznis/wipline/internal/config"
	invoicedomain "github.com/smallbiznis/wipline/internal/invoice/domain"
	"github.com/smallbiznis/wipline/internal/invoice/format"
	obslogger "github.com/smallbiznis/wipline/internal/observability/logger"
	projectdomain "github.com/smallbiznis/wipline/internal/project/domain"
	"github.com/smallbiznis/wipline/internal/providers/notification"
	timesheetdomain "github.com/smallbiznis/wipline/internal/timesheet/domain"
	pkgdb "github.com/smallbiznis/wipline/pkg/db"
	"github.com/smallbiznis/wipline/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.FinancePolicyHolder
	AuditSvc auditdomain.Service `optional:"true"`
	Notifier notification.Port   `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.FinancePolicyHolder
	auditSvc auditdomain.Service
	notifier notification.Port
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		auditSvc: p.AuditSvc,
		notifier: p.Notifier,
	}
}

// Generate creates the invoice header, its lines and the timesheet
// back-references as one transaction. Any failure rolls the whole document
// back; a header without lines can never be observed.
func (s *Service) Generate(ctx context.Context, req invoicedomain.GenerateRequest) (*invoicedomain.InvoiceSummary, error) {
	tenantIDRaw, ok := tenantctx.TenantID(ctx)
	if !ok || tenantIDRaw == 0 {
		return nil, invoicedomain.ErrInvalidTenant
	}
	tenantID := snowflake.ID(tenantIDRaw)

	project, engagement, client, err := s.resolveBillingParties(ctx, tenantID, req.ProjectID)
	if err != nil {
		return nil, err
	}

	policy := s.policy.Current()

	invoiceDate := truncateToDate(s.clock.Now())
	if req.InvoiceDate != nil {
		invoiceDate = truncateToDate(*req.InvoiceDate)
	}
	dueDate := invoiceDate.AddDate(0, 0, policy.NetTermsDays)
	if req.DueDate != nil {
		dueDate = truncateToDate(*req.DueDate)
	}

	var summary *invoicedomain.InvoiceSummary
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entries, err := s.selectEntries(ctx, tx, tenantID, project.ID, req.TimesheetEntryIDs)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return invoicedomain.ErrNoBillableWork
		}

		seq, err := s.nextSequence(ctx, tx, tenantID)
		if err != nil {
			return err
		}

		var subtotal int64
		for _, entry := range entries {
			subtotal += entry.BillableAmount
		}
		taxAmount := subtotal * policy.TaxRateBps / 10000
		totalAmount := subtotal + taxAmount

		now := s.clock.Now()
		invoice := invoicedomain.Invoice{
			ID:           s.genID.Generate(),
			TenantID:     tenantID,
			Number:       format.InvoiceNumber(seq),
			ProjectID:    project.ID,
			EngagementID: engagement.ID,
			ClientID:     client.ID,
			InvoiceDate:  invoiceDate,
			DueDate:      dueDate,
			Subtotal:     subtotal,
			TaxRateBps:   policy.TaxRateBps,
			TaxAmount:    taxAmount,
			TotalAmount:  totalAmount,
			Status:       invoicedomain.InvoiceStatusDraft,
			Notes:        req.Notes,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, actorID := tenantctx.Actor(ctx); actorID != "" {
			invoice.CreatedBy = &actorID
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}

		lines := make([]invoicedomain.InvoiceLine, 0, len(entries))
		for idx, entry := range entries {
			lines = append(lines, invoicedomain.InvoiceLine{
				ID:               s.genID.Generate(),
				InvoiceID:        invoice.ID,
				TenantID:         tenantID,
				LineNo:           idx + 1,
				Description:      lineDescription(entry),
				Quantity:         entry.Hours,
				UnitPrice:        unitPrice(entry),
				LineTotal:        entry.BillableAmount,
				SourceType:       invoicedomain.SourceTypeTimesheet,
				TimesheetEntryID: entry.ID,
				CreatedAt:        now,
			})
		}
		if err := tx.Create(&lines).Error; err != nil {
			// A duplicate timesheet_entry_id means another invoice won the
			// race for one of these entries.
			if pkgdb.IsDuplicateKeyErr(err) {
				return invoicedomain.ErrTimesheetEntryAlreadyBill
			}
			return err
		}

		// Back-reference in the same transaction. The IS NULL guard turns a
		// concurrent second billing into zero rows affected instead of a
		// silent overwrite.
		for _, line := range lines {
			res := tx.Exec(
				`UPDATE timesheet_entries
				 SET invoice_line_id = ?, updated_at = ?
				 WHERE id = ? AND invoice_line_id IS NULL`,
				line.ID, now, line.TimesheetEntryID,
			)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return invoicedomain.ErrTimesheetEntryAlreadyBill
			}
		}

		summary = &invoicedomain.InvoiceSummary{
			ID:            invoice.ID,
			Number:        invoice.Number,
			ProjectID:     invoice.ProjectID,
			ClientID:      invoice.ClientID,
			InvoiceDate:   invoice.InvoiceDate,
			DueDate:       invoice.DueDate,
			Subtotal:      invoice.Subtotal,
			TaxAmount:     invoice.TaxAmount,
			TotalAmount:   invoice.TotalAmount,
			Status:        invoice.Status,
			LineCount:     len(lines),
			EntriesBilled: len(entries),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditGenerated(ctx, tenantID, summary)
	if s.notifier != nil {
		s.notifier.Notify(ctx, notification.Event{
			Type:     notification.EventInvoiceCreated,
			TenantID: tenantID.String(),
			Payload: map[string]any{
				"invoice_id":   summary.ID.String(),
				"number":       summary.Number,
				"total_amount": summary.TotalAmount,
			},
		})
	}

	obslogger.WithContext(ctx, s.log).Info("invoice generated",
		zap.String("invoice_id", summary.ID.String()),
		zap.String("number", summary.Number),
		zap.Int64("total_amount", summary.TotalAmount),
		zap.Int("entries_billed", summary.EntriesBilled),
	)
	return summary, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.InvoiceDetail, error) {
	tenantIDRaw, ok := tenantctx.TenantID(ctx)
	if !ok || tenantIDRaw == 0 {
		return nil, invoicedomain.ErrInvalidTenant
	}
	tenantID := snowflake.ID(tenantIDRaw)

	var invoices []invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, invoicedomain.ErrInvoiceNotFound
	}

	var lines []invoicedomain.InvoiceLine
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND invoice_id = ?", tenantID, id).
		Order("line_no").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}

	return &invoicedomain.InvoiceDetail{Invoice: invoices[0], Lines: lines}, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoicesRequest) ([]invoicedomain.Invoice, error) {
	tenantIDRaw, ok := tenantctx.TenantID(ctx)
	if !ok || tenantIDRaw == 0 {
		return nil, invoicedomain.ErrInvalidTenant
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}

	stmt := s.db.WithContext(ctx).
		Where("tenant_id = ?", snowflake.ID(tenantIDRaw)).
		Order("invoice_date desc, id desc").
		Limit(limit)
	if req.ProjectID != nil {
		stmt = stmt.Where("project_id = ?", *req.ProjectID)
	}
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}

	var invoices []invoicedomain.Invoice
	if err := stmt.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// MarkOverdue flips sent/partial invoices with a past due date and a
// positive remaining balance. It runs across tenants; only the nightly
// scheduler calls it.
func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE status IN (?, ?)
		   AND due_date < ?
		   AND total_amount - paid_amount > 0`,
		string(invoicedomain.InvoiceStatusOverdue),
		s.clock.Now(),
		string(invoicedomain.InvoiceStatusSent),
		string(invoicedomain.InvoiceStatusPartial),
		truncateToDate(asOf),
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *Service) resolveBillingParties(ctx context.Context, tenantID, projectID snowflake.ID) (*projectdomain.Project, *projectdomain.Engagement, *projectdomain.Client, error) {
	var projects []projectdomain.Project
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, projectID).
		Find(&projects).Error
	if err != nil {
		return nil, nil, nil, err
	}
	if len(projects) == 0 {
		return nil, nil, nil, projectdomain.ErrProjectNotFound
	}
	project := projects[0]

	var engagements []projectdomain.Engagement
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, project.EngagementID).
		Find(&engagements).Error
	if err != nil {
		return nil, nil, nil, err
	}
	if len(engagements) == 0 {
		return nil, nil, nil, projectdomain.ErrEngagementNotFound
	}
	engagement := engagements[0]

	var clients []projectdomain.Client
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, engagement.ClientID).
		Find(&clients).Error
	if err != nil {
		return nil, nil, nil, err
	}
	if len(clients) == 0 {
		return nil, nil, nil, projectdomain.ErrClientNotFound
	}

	return &project, &engagement, &clients[0], nil
}

// selectEntries resolves the entry set to bill inside the transaction.
// Explicit ids must all match the billing filter; a partial match is a
// validation error rather than a silent drop.
func (s *Service) selectEntries(ctx context.Context, tx *gorm.DB, tenantID, projectID snowflake.ID, entryIDs []snowflake.ID) ([]timesheetdomain.TimesheetEntry, error) {
	var entries []timesheetdomain.TimesheetEntry

	if len(entryIDs) > 0 {
		err := tx.WithContext(ctx).
			Where("tenant_id = ? AND id IN ?", tenantID, entryIDs).
			Find(&entries).Error
		if err != nil {
			return nil, err
		}
		if len(entries) != len(entryIDs) {
			return nil, invoicedomain.ErrInvalidTimesheetEntries
		}
		for _, entry := range entries {
			if entry.ProjectID != projectID ||
				entry.Status != timesheetdomain.EntryStatusApproved ||
				!entry.Billable ||
				entry.InvoiceLineID != nil {
				return nil, invoicedomain.ErrInvalidTimesheetEntries
			}
		}
		return entries, nil
	}

	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND project_id = ? AND status = ? AND billable = ? AND invoice_line_id IS NULL",
			tenantID, projectID, timesheetdomain.EntryStatusApproved, true).
		Order("entry_date, id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// nextSequence bumps and reads the per-tenant counter inside the caller's
// transaction. The upsert keeps the bump atomic on both postgres and the
// sqlite used in tests.
func (s *Service) nextSequence(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (int64, error) {
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO invoice_sequences (tenant_id, last_value)
		 VALUES (?, 1)
		 ON CONFLICT (tenant_id) DO UPDATE SET last_value = invoice_sequences.last_value + 1`,
		tenantID,
	).Error
	if err != nil {
		return 0, err
	}

	var row struct {
		LastValue int64 `gorm:"column:last_value"`
	}
	err = tx.WithContext(ctx).Raw(
		`SELECT last_value FROM invoice_sequences WHERE tenant_id = ?`,
		tenantID,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.LastValue, nil
}

func (s *Service) auditGenerated(ctx context.Context, tenantID snowflake.ID, summary *invoicedomain.InvoiceSummary) {
	if s.auditSvc == nil || summary == nil {
		return
	}
	targetID := summary.ID.String()
	_ = s.auditSvc.AuditLog(ctx, &tenantID, "", nil, "invoice.generated", "invoice", &targetID, map[string]any{
		"number":         summary.Number,
		"project_id":     summary.ProjectID.String(),
		"subtotal":       summary.Subtotal,
		"tax_amount":     summary.TaxAmount,
		"total_amount":   summary.TotalAmount,
		"entries_billed": summary.EntriesBilled,
	})
}

func lineDescription(entry timesheetdomain.TimesheetEntry) string {
	if entry.Description != "" {
		return fmt.Sprintf("%s %s", entry.EntryDate.Format("2006-01-02"), entry.Description)
	}
	return fmt.Sprintf("Professional services %s", entry.EntryDate.Format("2006-01-02"))
}

func unitPrice(entry timesheetdomain.TimesheetEntry) int64 {
	if entry.BillRate > 0 {
		return entry.BillRate
	}
	if entry.Hours > 0 {
		return int64(float64(entry.BillableAmount) / entry.Hours)
	}
	return entry.BillableAmount
}

func truncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
