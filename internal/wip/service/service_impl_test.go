package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/wipline/internal/clock"
	"github.com/smallbiznis/wipline/internal/config"
	projectdomain "github.com/smallbiznis/wipline/internal/project/domain"
	"github.com/smallbiznis/wipline/internal/providers/notification"
	timesheetdomain "github.com/smallbiznis/wipline/internal/timesheet/domain"
	wipdomain "github.com/smallbiznis/wipline/internal/wip/domain"
	"github.com/smallbiznis/wipline/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, event notification.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) Events() []notification.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Event, len(r.events))
	copy(out, r.events)
	return out
}

type wipFixture struct {
	svc      wipdomain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	notifier *recordingNotifier
	genID    *snowflake.Node
	tenantID snowflake.ID
	ctx      context.Context
}

func newWipFixture(t *testing.T) *wipFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&projectdomain.Project{},
		&timesheetdomain.TimesheetEntry{},
		&wipdomain.WipSnapshot{},
	))

	// SQLite requires a matching UNIQUE index for ON CONFLICT to work.
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_wip_project_date ON wip_snapshots(project_id, as_of_date)`,
	).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	tenantID := node.Generate()

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fakeClock,
		Policy:   config.NewStaticFinancePolicyHolder(config.DefaultFinancePolicy()),
		Notifier: notifier,
	})

	return &wipFixture{
		svc:      svc,
		db:       db,
		clock:    fakeClock,
		notifier: notifier,
		genID:    node,
		tenantID: tenantID,
		ctx:      tenantctx.WithTenantID(context.Background(), int64(tenantID)),
	}
}

func (f *wipFixture) addProject(t *testing.T, status projectdomain.ProjectStatus) snowflake.ID {
	t.Helper()
	project := projectdomain.Project{
		ID:           f.genID.Generate(),
		TenantID:     f.tenantID,
		EngagementID: f.genID.Generate(),
		Name:         "Audit FY26",
		Status:       status,
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&project).Error)
	return project.ID
}

func (f *wipFixture) addEntry(t *testing.T, projectID snowflake.ID, amount int64, daysAgo int, status timesheetdomain.EntryStatus, billable bool) snowflake.ID {
	t.Helper()
	entry := timesheetdomain.TimesheetEntry{
		ID:             f.genID.Generate(),
		TenantID:       f.tenantID,
		ProjectID:      projectID,
		UserID:         f.genID.Generate(),
		EntryDate:      f.clock.Now().AddDate(0, 0, -daysAgo),
		Hours:          8,
		BillRate:       amount / 8,
		BillableAmount: amount,
		CostAmount:     amount / 2,
		Status:         status,
		Billable:       billable,
		CreatedAt:      f.clock.Now(),
		UpdatedAt:      f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&entry).Error)
	return entry.ID
}

func TestCalculateWip_SumsUnbilledApprovedWork(t *testing.T) {
	f := newWipFixture(t)
	projectID := f.addProject(t, projectdomain.ProjectStatusActive)

	// Oldest entry is 35 days old, so the age threshold trips even
	// though the amount stays below the ready threshold.
	f.addEntry(t, projectID, 500, 35, timesheetdomain.EntryStatusApproved, true)
	f.addEntry(t, projectID, 1200, 10, timesheetdomain.EntryStatusApproved, true)
	f.addEntry(t, projectID, 300, 2, timesheetdomain.EntryStatusApproved, true)

	resp, err := f.svc.CalculateWip(f.ctx, wipdomain.CalculateRequest{})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	snapshot := resp.Results[0]
	assert.Equal(t, int64(2000), snapshot.TimeWip)
	assert.Equal(t, int64(0), snapshot.ExpenseWip)
	assert.Equal(t, int64(0), snapshot.FeeWip)
	assert.Equal(t, 35, snapshot.AgeDays)
	assert.True(t, snapshot.ReadyToInvoice)
	assert.Equal(t, 1, resp.ProjectsProcessed)
	assert.Equal(t, int64(2000), resp.TotalWip)
	assert.Equal(t, 1, resp.ReadyToInvoiceCount)
	assert.Empty(t, resp.Failures)
}

func TestCalculateWip_AmountThreshold(t *testing.T) {
	f := newWipFixture(t)
	projectID := f.addProject(t, projectdomain.ProjectStatusActive)
	f.addEntry(t, projectID, 150_000, 1, timesheetdomain.EntryStatusApproved, true)

	resp, err := f.svc.CalculateWip(f.ctx, wipdomain.CalculateRequest{ProjectID: &projectID})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].ReadyToInvoice)
	assert.Equal(t, 1, resp.Results[0].AgeDays)
}

func TestCalculateWip_ExcludesNonQualifyingEntries(t *testing.T) {
	f := newWipFixture(t)
	projectID := f.addProject(t, projectdomain.ProjectStatusActive)

	f.addEntry(t, projectID, 1000, 5, timesheetdomain.EntryStatusApproved, true)
	f.addEntry(t, projectID, 9000, 5, timesheetdomain.EntryStatusDraft, true)
	f.addEntry(t, projectID, 9000, 5, timesheetdomain.EntryStatusApproved, false)

	// Already billed.
	billedID := f.addEntry(t, projectID, 9000, 5, timesheetdomain.EntryStatusApproved, true)
	lineID := f.genID.Generate()
	require.NoError(t, f.db.Exec(
		`UPDATE timesheet_entries SET invoice_line_id = ? WHERE id = ?`, lineID, billedID,
	).Error)

	// Dated after the as-of date.
	future := f.clock.Now().AddDate(0, 0, 3)
	entry := timesheetdomain.TimesheetEntry{
		ID:             f.genID.Generate(),
		TenantID:       f.tenantID,
		ProjectID:      projectID,
		EntryDate:      future,
		BillableAmount: 9000,
		Status:         timesheetdomain.EntryStatusApproved,
		Billable:       true,
	}
	require.NoError(t, f.db.Create(&entry).Error)

	resp, err := f.svc.CalculateWip(f.ctx, wipdomain.CalculateRequest{})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(1000), resp.Results[0].TimeWip)
	assert.False(t, resp.Results[0].ReadyToInvoice)
}

func TestCalculateWip_IdempotentUpsert(t *testing.T) {
	f := newWipFixture(t)
	projectID := f.addProject(t, projectdomain.ProjectStatusPlanning)
	f.addEntry(t, projectID, 4200, 3, timesheetdomain.EntryStatusApproved, true)

	first, err := f.svc.CalculateWip(f.ctx, wipdomain.CalculateRequest{})
	require.NoError(t, err)
	second, err := f.svc.CalculateWip(f.ctx, wipdomain.CalculateRequest{})
	require.NoError(t, err)

	var count int64
	require.NoError(t, f.db.Model(&wipdomain.WipSnapshot{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.Len(t, first.Results, 1)
	require.Len(t, second.Results, 1)
	assert.Equal(t, first.Results[0].TimeWip, second.Results[0].TimeWip)
	assert.Equal(t, first.Results[0].AsOfDate, second.Results[0].AsOfDate)
	assert.Equal(t, first.Results[0].ReadyToInvoice, second.Results[0].ReadyToInvoice)
}

func TestCalculateWip_UnknownProjectFails(t *testing.T) {
	f := newWipFixture(t)
	missing := f.genID.Generate()

	_, err := f.svc.CalculateWip(f.ctx, wipdomain.CalculateRequest{ProjectID: &missing})
	assert.ErrorIs(t, err, projectdomain.ErrProjectNotFound)
}

func TestCalculateWip_RequiresTenant(t *testing.T) {
	f := newWipFixture(t)

	_, err := f.svc.CalculateWip(context.Background(), wipdomain.CalculateRequest{})
	assert.ErrorIs(t, err, wipdomain.ErrInvalidTenant)
}

func TestCalculateWip_NotifiesOnlyOnReadyFlip(t *testing.T) {
	f := newWipFixture(t)
	projectID := f.addProject(t, projectdomain.ProjectStatusActive)
	f.addEntry(t, projectID, 200_000, 1, timesheetdomain.EntryStatusApproved, true)

	_, err := f.svc.CalculateWip(f.ctx, wipdomain.CalculateRequest{})
	require.NoError(t, err)
	_, err = f.svc.CalculateWip(f.ctx, wipdomain.CalculateRequest{})
	require.NoError(t, err)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notification.EventReadyToInvoice, events[0].Type)
	assert.Equal(t, f.tenantID.String(), events[0].TenantID)
}

func TestCalculateWip_SkipsCompletedProjects(t *testing.T) {
	f := newWipFixture(t)
	active := f.addProject(t, projectdomain.ProjectStatusActive)
	completed := f.addProject(t, projectdomain.ProjectStatusCompleted)
	f.addEntry(t, active, 100, 1, timesheetdomain.EntryStatusApproved, true)
	f.addEntry(t, completed, 100, 1, timesheetdomain.EntryStatusApproved, true)

	resp, err := f.svc.CalculateWip(f.ctx, wipdomain.CalculateRequest{})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, active, resp.Results[0].ProjectID)
}

func TestListSnapshots_FiltersByProject(t *testing.T) {
	f := newWipFixture(t)
	first := f.addProject(t, projectdomain.ProjectStatusActive)
	second := f.addProject(t, projectdomain.ProjectStatusActive)
	f.addEntry(t, first, 100, 1, timesheetdomain.EntryStatusApproved, true)
	f.addEntry(t, second, 200, 1, timesheetdomain.EntryStatusApproved, true)

	_, err := f.svc.CalculateWip(f.ctx, wipdomain.CalculateRequest{})
	require.NoError(t, err)

	snapshots, err := f.svc.ListSnapshots(f.ctx, wipdomain.ListSnapshotsRequest{ProjectID: &first})
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, first, snapshots[0].ProjectID)

	all, err := f.svc.ListSnapshots(f.ctx, wipdomain.ListSnapshotsRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
