package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/wipline/internal/clock"
	"github.com/smallbiznis/wipline/internal/config"
	invoicedomain "github.com/smallbiznis/wipline/internal/invoice/domain"
	projectdomain "github.com/smallbiznis/wipline/internal/project/domain"
	timesheetdomain "github.com/smallbiznis/wipline/internal/timesheet/domain"
	"github.com/smallbiznis/wipline/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type invoiceFixture struct {
	svc       invoicedomain.Service
	db        *gorm.DB
	clock     *clock.FakeClock
	genID     *snowflake.Node
	tenantID  snowflake.ID
	projectID snowflake.ID
	ctx       context.Context
}

func newInvoiceFixture(t *testing.T) *invoiceFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&projectdomain.Client{},
		&projectdomain.Engagement{},
		&projectdomain.Project{},
		&timesheetdomain.TimesheetEntry{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&invoicedomain.InvoiceSequence{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	tenantID := node.Generate()

	client := projectdomain.Client{
		ID:       node.Generate(),
		TenantID: tenantID,
		Name:     "Acme Holdings",
	}
	require.NoError(t, db.Create(&client).Error)

	engagement := projectdomain.Engagement{
		ID:       node.Generate(),
		TenantID: tenantID,
		ClientID: client.ID,
		Name:     "FY26 Audit",
		Code:     "ACME-FY26",
	}
	require.NoError(t, db.Create(&engagement).Error)

	project := projectdomain.Project{
		ID:           node.Generate(),
		TenantID:     tenantID,
		EngagementID: engagement.ID,
		Name:         "Statutory Audit",
		Status:       projectdomain.ProjectStatusActive,
	}
	require.NoError(t, db.Create(&project).Error)

	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fakeClock,
		Policy: config.NewStaticFinancePolicyHolder(config.DefaultFinancePolicy()),
	})

	return &invoiceFixture{
		svc:       svc,
		db:        db,
		clock:     fakeClock,
		genID:     node,
		tenantID:  tenantID,
		projectID: project.ID,
		ctx:       tenantctx.WithTenantID(context.Background(), int64(tenantID)),
	}
}

func (f *invoiceFixture) addApprovedEntry(t *testing.T, amount int64) snowflake.ID {
	t.Helper()
	entry := timesheetdomain.TimesheetEntry{
		ID:             f.genID.Generate(),
		TenantID:       f.tenantID,
		ProjectID:      f.projectID,
		UserID:         f.genID.Generate(),
		EntryDate:      f.clock.Now().AddDate(0, 0, -7),
		Hours:          8,
		BillRate:       amount / 8,
		BillableAmount: amount,
		Status:         timesheetdomain.EntryStatusApproved,
		Billable:       true,
	}
	require.NoError(t, f.db.Create(&entry).Error)
	return entry.ID
}

func TestGenerate_TotalsAndTax(t *testing.T) {
	f := newInvoiceFixture(t)
	f.addApprovedEntry(t, 1000)
	f.addApprovedEntry(t, 2000)

	summary, err := f.svc.Generate(f.ctx, invoicedomain.GenerateRequest{ProjectID: f.projectID})
	require.NoError(t, err)

	assert.Equal(t, "INV-000001", summary.Number)
	assert.Equal(t, int64(3000), summary.Subtotal)
	assert.Equal(t, int64(360), summary.TaxAmount)
	assert.Equal(t, int64(3360), summary.TotalAmount)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, summary.Status)
	assert.Equal(t, 2, summary.LineCount)
	assert.Equal(t, 2, summary.EntriesBilled)

	// Net-30 due date from the invoice date.
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), summary.InvoiceDate)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), summary.DueDate)

	detail, err := f.svc.Get(f.ctx, summary.ID)
	require.NoError(t, err)
	require.Len(t, detail.Lines, 2)
	assert.Equal(t, 1, detail.Lines[0].LineNo)
	assert.Equal(t, 2, detail.Lines[1].LineNo)
	assert.Equal(t, int64(1200), detail.Invoice.TaxRateBps)

	// Every billed entry carries its back-reference.
	var unbilled int64
	require.NoError(t, f.db.Model(&timesheetdomain.TimesheetEntry{}).
		Where("invoice_line_id IS NULL").Count(&unbilled).Error)
	assert.Equal(t, int64(0), unbilled)
}

func TestGenerate_SequenceIncrementsPerTenant(t *testing.T) {
	f := newInvoiceFixture(t)

	f.addApprovedEntry(t, 5000)
	first, err := f.svc.Generate(f.ctx, invoicedomain.GenerateRequest{ProjectID: f.projectID})
	require.NoError(t, err)

	f.addApprovedEntry(t, 7000)
	second, err := f.svc.Generate(f.ctx, invoicedomain.GenerateRequest{ProjectID: f.projectID})
	require.NoError(t, err)

	assert.Equal(t, "INV-000001", first.Number)
	assert.Equal(t, "INV-000002", second.Number)
}

func TestGenerate_NoBillableWork(t *testing.T) {
	f := newInvoiceFixture(t)

	_, err := f.svc.Generate(f.ctx, invoicedomain.GenerateRequest{ProjectID: f.projectID})
	assert.ErrorIs(t, err, invoicedomain.ErrNoBillableWork)

	var invoices int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&invoices).Error)
	assert.Equal(t, int64(0), invoices)

	var sequences int64
	require.NoError(t, f.db.Model(&invoicedomain.InvoiceSequence{}).Count(&sequences).Error)
	assert.Equal(t, int64(0), sequences)
}

func TestGenerate_NoDoubleBilling(t *testing.T) {
	f := newInvoiceFixture(t)
	f.addApprovedEntry(t, 4000)

	_, err := f.svc.Generate(f.ctx, invoicedomain.GenerateRequest{ProjectID: f.projectID})
	require.NoError(t, err)

	_, err = f.svc.Generate(f.ctx, invoicedomain.GenerateRequest{ProjectID: f.projectID})
	assert.ErrorIs(t, err, invoicedomain.ErrNoBillableWork)

	var invoices int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&invoices).Error)
	assert.Equal(t, int64(1), invoices)
}

func TestGenerate_ExplicitEntriesMustAllQualify(t *testing.T) {
	f := newInvoiceFixture(t)
	approvedID := f.addApprovedEntry(t, 4000)

	draft := timesheetdomain.TimesheetEntry{
		ID:             f.genID.Generate(),
		TenantID:       f.tenantID,
		ProjectID:      f.projectID,
		EntryDate:      f.clock.Now().AddDate(0, 0, -2),
		BillableAmount: 1000,
		Status:         timesheetdomain.EntryStatusDraft,
		Billable:       true,
	}
	require.NoError(t, f.db.Create(&draft).Error)

	_, err := f.svc.Generate(f.ctx, invoicedomain.GenerateRequest{
		ProjectID:         f.projectID,
		TimesheetEntryIDs: []snowflake.ID{approvedID, draft.ID},
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTimesheetEntries)

	missing := f.genID.Generate()
	_, err = f.svc.Generate(f.ctx, invoicedomain.GenerateRequest{
		ProjectID:         f.projectID,
		TimesheetEntryIDs: []snowflake.ID{approvedID, missing},
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTimesheetEntries)
}

func TestGenerate_RollbackLeavesNothingBehind(t *testing.T) {
	f := newInvoiceFixture(t)
	f.addApprovedEntry(t, 4000)

	// Breaking the lines table forces a mid-transaction failure after the
	// header insert succeeded.
	require.NoError(t, f.db.Exec(`DROP TABLE invoice_lines`).Error)

	_, err := f.svc.Generate(f.ctx, invoicedomain.GenerateRequest{ProjectID: f.projectID})
	require.Error(t, err)

	var invoices int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&invoices).Error)
	assert.Equal(t, int64(0), invoices)

	var unbilled int64
	require.NoError(t, f.db.Model(&timesheetdomain.TimesheetEntry{}).
		Where("invoice_line_id IS NULL").Count(&unbilled).Error)
	assert.Equal(t, int64(1), unbilled)
}

func TestGenerate_UnknownProject(t *testing.T) {
	f := newInvoiceFixture(t)
	missing := f.genID.Generate()

	_, err := f.svc.Generate(f.ctx, invoicedomain.GenerateRequest{ProjectID: missing})
	assert.ErrorIs(t, err, projectdomain.ErrProjectNotFound)
}

func TestGenerate_RequiresTenant(t *testing.T) {
	f := newInvoiceFixture(t)

	_, err := f.svc.Generate(context.Background(), invoicedomain.GenerateRequest{ProjectID: f.projectID})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTenant)
}

func TestGet_UnknownInvoice(t *testing.T) {
	f := newInvoiceFixture(t)

	_, err := f.svc.Get(f.ctx, f.genID.Generate())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestMarkOverdue_FlipsOnlyUnpaidPastDue(t *testing.T) {
	f := newInvoiceFixture(t)
	now := f.clock.Now()

	seq := 0
	mk := func(status invoicedomain.InvoiceStatus, dueDaysAgo int, paid int64) snowflake.ID {
		seq++
		inv := invoicedomain.Invoice{
			ID:          f.genID.Generate(),
			TenantID:    f.tenantID,
			Number:      fmt.Sprintf("INV-%06d", seq),
			ProjectID:   f.projectID,
			InvoiceDate: now.AddDate(0, -1, 0),
			DueDate:     now.AddDate(0, 0, -dueDaysAgo),
			Subtotal:    1000,
			TaxAmount:   120,
			TotalAmount: 1120,
			PaidAmount:  paid,
			Status:      status,
		}
		require.NoError(t, f.db.Create(&inv).Error)
		return inv.ID
	}

	overdueID := mk(invoicedomain.InvoiceStatusSent, 5, 0)
	partialID := mk(invoicedomain.InvoiceStatusPartial, 5, 500)
	mk(invoicedomain.InvoiceStatusSent, 5, 1120)   // settled in full
	mk(invoicedomain.InvoiceStatusDraft, 5, 0)     // never sent
	futureID := mk(invoicedomain.InvoiceStatusSent, -5, 0)

	flipped, err := f.svc.MarkOverdue(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), flipped)

	status := func(id snowflake.ID) invoicedomain.InvoiceStatus {
		var inv invoicedomain.Invoice
		require.NoError(t, f.db.First(&inv, "id = ?", id).Error)
		return inv.Status
	}
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, status(overdueID))
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, status(partialID))
	assert.Equal(t, invoicedomain.InvoiceStatusSent, status(futureID))
}
