package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/wipline/internal/audit/domain"
	"github.com/smallbiznis/wipline/internal/clock"
	"github.com/smallbiznis/wipline/internal/config"
	financedomain "github.com/smallbiznis/wipline/internal/finance/domain"
	invoicedomain "github.com/smallbiznis/wipline/internal/invoice/domain"
	tenantdomain "github.com/smallbiznis/wipline/internal/tenant/domain"
	timesheetdomain "github.com/smallbiznis/wipline/internal/timesheet/domain"
	wipdomain "github.com/smallbiznis/wipline/internal/wip/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubWipService struct {
	calls    int
	failWith error
}

func (s *stubWipService) CalculateWip(ctx context.Context, req wipdomain.CalculateRequest) (*wipdomain.CalculateResponse, error) {
	s.calls++
	if s.failWith != nil {
		return nil, s.failWith
	}
	return &wipdomain.CalculateResponse{ProjectsProcessed: 2, TotalWip: 5000}, nil
}

func (s *stubWipService) ListSnapshots(ctx context.Context, req wipdomain.ListSnapshotsRequest) ([]wipdomain.WipSnapshot, error) {
	return nil, nil
}

type stubInvoiceService struct {
	overdueCalls int
	overdueErr   error
}

func (s *stubInvoiceService) Generate(ctx context.Context, req invoicedomain.GenerateRequest) (*invoicedomain.InvoiceSummary, error) {
	return nil, errors.New("not implemented")
}

func (s *stubInvoiceService) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.InvoiceDetail, error) {
	return nil, invoicedomain.ErrInvoiceNotFound
}

func (s *stubInvoiceService) List(ctx context.Context, req invoicedomain.ListInvoicesRequest) ([]invoicedomain.Invoice, error) {
	return nil, nil
}

func (s *stubInvoiceService) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	s.overdueCalls++
	if s.overdueErr != nil {
		return 0, s.overdueErr
	}
	return 3, nil
}

type stubFinanceService struct {
	calls int
}

func (s *stubFinanceService) RollupMonth(ctx context.Context, month time.Time) (*financedomain.RollupResult, error) {
	s.calls++
	return &financedomain.RollupResult{Month: month, ProjectsProcessed: 1}, nil
}

type stubAuditService struct {
	actions []string
}

func (s *stubAuditService) AuditLog(ctx context.Context, tenantID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	s.actions = append(s.actions, action)
	return nil
}

func (s *stubAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type schedulerEnv struct {
	sched      *Scheduler
	db         *gorm.DB
	clock      *clock.FakeClock
	wipSvc     *stubWipService
	invoiceSvc *stubInvoiceService
	financeSvc *stubFinanceService
	auditSvc   *stubAuditService
	tenantID   snowflake.ID
}

func newSchedulerEnv(t *testing.T, cfg Config) *schedulerEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&tenantdomain.Tenant{},
		&timesheetdomain.TimesheetEntry{},
		&JobRunRecord{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	tenant := tenantdomain.Tenant{
		ID:       node.Generate(),
		Name:     "Main Firm",
		Slug:     "main-firm",
		Currency: "PHP",
	}
	if err := db.Create(&tenant).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	env := &schedulerEnv{
		db:         db,
		clock:      clock.NewFakeClock(time.Date(2026, 5, 1, 1, 0, 0, 0, time.UTC)),
		wipSvc:     &stubWipService{},
		invoiceSvc: &stubInvoiceService{},
		financeSvc: &stubFinanceService{},
		auditSvc:   &stubAuditService{},
		tenantID:   tenant.ID,
	}

	sched, err := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		WipSvc:     env.wipSvc,
		InvoiceSvc: env.invoiceSvc,
		FinanceSvc: env.financeSvc,
		AuditSvc:   env.auditSvc,
		GenID:      node,
		Clock:      env.clock,
		Policy:     config.NewStaticFinancePolicyHolder(config.DefaultFinancePolicy()),
		Config:     cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	env.sched = sched
	return env
}

func (e *schedulerEnv) addDraftEntry(t *testing.T, monthsOld int) snowflake.ID {
	t.Helper()
	entry := timesheetdomain.TimesheetEntry{
		ID:             e.sched.genID.Generate(),
		TenantID:       e.tenantID,
		ProjectID:      e.sched.genID.Generate(),
		EntryDate:      e.clock.Now().AddDate(0, -monthsOld, 0),
		BillableAmount: 1000,
		Status:         timesheetdomain.EntryStatusDraft,
		Billable:       true,
	}
	if err := e.db.Create(&entry).Error; err != nil {
		t.Fatalf("seed draft entry: %v", err)
	}
	return entry.ID
}

func TestRunNightly_AllJobsSucceed(t *testing.T) {
	env := newSchedulerEnv(t, Config{})
	staleID := env.addDraftEntry(t, 4)
	env.addDraftEntry(t, 1)

	report, err := env.sched.RunNightly(context.Background())
	if err != nil {
		t.Fatalf("run nightly: %v", err)
	}

	if report.TotalJobs != 4 || report.Succeeded != 4 || report.Failed != 0 {
		t.Fatalf("unexpected tallies: total=%d succeeded=%d failed=%d",
			report.TotalJobs, report.Succeeded, report.Failed)
	}
	if env.wipSvc.calls != 1 {
		t.Fatalf("wip recompute ran %d times, want 1", env.wipSvc.calls)
	}
	if env.invoiceSvc.overdueCalls != 1 || env.financeSvc.calls != 1 {
		t.Fatalf("overdue=%d rollup=%d, want 1 each", env.invoiceSvc.overdueCalls, env.financeSvc.calls)
	}

	byName := map[string]JobResult{}
	for _, result := range report.Jobs {
		byName[result.Name] = result
	}
	if byName["wip_recompute"].Processed != 2 {
		t.Fatalf("wip_recompute processed %d, want 2", byName["wip_recompute"].Processed)
	}
	if byName["draft_cleanup"].Processed != 1 {
		t.Fatalf("draft_cleanup processed %d, want 1", byName["draft_cleanup"].Processed)
	}

	// The stale draft is gone, the recent one stays.
	var count int64
	if err := env.db.Model(&timesheetdomain.TimesheetEntry{}).Count(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("entries after cleanup = %d, want 1", count)
	}
	var stale int64
	if err := env.db.Model(&timesheetdomain.TimesheetEntry{}).
		Where("id = ?", staleID).Count(&stale).Error; err != nil {
		t.Fatalf("count stale: %v", err)
	}
	if stale != 0 {
		t.Fatalf("stale draft survived cleanup")
	}

	// The run lands in job_runs so operators can inspect past nights.
	var records int64
	if err := env.db.Model(&JobRunRecord{}).Count(&records).Error; err != nil {
		t.Fatalf("count job runs: %v", err)
	}
	if records != 1 {
		t.Fatalf("job run records = %d, want 1", records)
	}

	if len(env.auditSvc.actions) != 1 || env.auditSvc.actions[0] != "jobs.nightly_run" {
		t.Fatalf("audit actions = %v", env.auditSvc.actions)
	}
}

func TestRunNightly_OneJobFailingDoesNotBlockOthers(t *testing.T) {
	env := newSchedulerEnv(t, Config{})
	env.invoiceSvc.overdueErr = errors.New("invoices table locked")

	report, err := env.sched.RunNightly(context.Background())
	if err != nil {
		t.Fatalf("run nightly: %v", err)
	}

	if report.TotalJobs != 4 || report.Succeeded != 3 || report.Failed != 1 {
		t.Fatalf("unexpected tallies: total=%d succeeded=%d failed=%d",
			report.TotalJobs, report.Succeeded, report.Failed)
	}

	for _, result := range report.Jobs {
		switch result.Name {
		case "mark_overdue":
			if result.Status != JobStatusFailed {
				t.Fatalf("mark_overdue status = %s, want failed", result.Status)
			}
			if result.Error == "" {
				t.Fatalf("mark_overdue result has no error detail")
			}
		default:
			if result.Status != JobStatusCompleted {
				t.Fatalf("%s status = %s, want completed", result.Name, result.Status)
			}
		}
	}

	// Jobs after the failing one still ran.
	if env.financeSvc.calls != 1 {
		t.Fatalf("monthly rollup ran %d times, want 1", env.financeSvc.calls)
	}
}

func TestRunNightly_HonorsEnabledJobs(t *testing.T) {
	env := newSchedulerEnv(t, Config{EnabledJobs: []string{"mark_overdue"}})

	report, err := env.sched.RunNightly(context.Background())
	if err != nil {
		t.Fatalf("run nightly: %v", err)
	}

	if report.TotalJobs != 1 {
		t.Fatalf("total jobs = %d, want 1", report.TotalJobs)
	}
	if report.Jobs[0].Name != "mark_overdue" {
		t.Fatalf("ran %s, want mark_overdue", report.Jobs[0].Name)
	}
	if env.wipSvc.calls != 0 || env.financeSvc.calls != 0 {
		t.Fatalf("disabled jobs ran: wip=%d rollup=%d", env.wipSvc.calls, env.financeSvc.calls)
	}
}

func TestNew_RejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
