package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/wipline/internal/clock"
	financedomain "github.com/smallbiznis/wipline/internal/finance/domain"
	invoicedomain "github.com/smallbiznis/wipline/internal/invoice/domain"
	projectdomain "github.com/smallbiznis/wipline/internal/project/domain"
	timesheetdomain "github.com/smallbiznis/wipline/internal/timesheet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type financeFixture struct {
	svc       financedomain.Service
	db        *gorm.DB
	clock     *clock.FakeClock
	genID     *snowflake.Node
	tenantID  snowflake.ID
	projectID snowflake.ID
}

func newFinanceFixture(t *testing.T) *financeFixture {
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
		&invoicedomain.Invoice{},
		&financedomain.ProjectFinancial{},
	))

	// SQLite requires a matching UNIQUE index for ON CONFLICT to work.
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_fin_project_month ON project_financials(project_id, month)`,
	).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 6, 1, 2, 0, 0, 0, time.UTC))
	tenantID := node.Generate()

	project := projectdomain.Project{
		ID:       node.Generate(),
		TenantID: tenantID,
		Name:     "Tax Compliance FY26",
		Status:   projectdomain.ProjectStatusActive,
	}
	require.NoError(t, db.Create(&project).Error)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
	})

	return &financeFixture{
		svc:       svc,
		db:        db,
		clock:     fakeClock,
		genID:     node,
		tenantID:  tenantID,
		projectID: project.ID,
	}
}

func TestRollupMonth_SumsCostAndRevenue(t *testing.T) {
	f := newFinanceFixture(t)
	may := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	addEntry := func(day int, cost int64, status timesheetdomain.EntryStatus) {
		entry := timesheetdomain.TimesheetEntry{
			ID:         f.genID.Generate(),
			TenantID:   f.tenantID,
			ProjectID:  f.projectID,
			EntryDate:  may.AddDate(0, 0, day-1),
			CostAmount: cost,
			Status:     status,
			Billable:   true,
		}
		require.NoError(t, f.db.Create(&entry).Error)
	}
	addEntry(3, 800, timesheetdomain.EntryStatusApproved)
	addEntry(20, 1200, timesheetdomain.EntryStatusApproved)
	addEntry(10, 5000, timesheetdomain.EntryStatusDraft)

	// An April entry stays out of the May rollup.
	outside := timesheetdomain.TimesheetEntry{
		ID:         f.genID.Generate(),
		TenantID:   f.tenantID,
		ProjectID:  f.projectID,
		EntryDate:  may.AddDate(0, 0, -5),
		CostAmount: 9000,
		Status:     timesheetdomain.EntryStatusApproved,
	}
	require.NoError(t, f.db.Create(&outside).Error)

	invoice := invoicedomain.Invoice{
		ID:          f.genID.Generate(),
		TenantID:    f.tenantID,
		Number:      "INV-000001",
		ProjectID:   f.projectID,
		InvoiceDate: may.AddDate(0, 0, 14),
		DueDate:     may.AddDate(0, 1, 14),
		Subtotal:    3000,
		TaxAmount:   360,
		TotalAmount: 3360,
		Status:      invoicedomain.InvoiceStatusSent,
	}
	require.NoError(t, f.db.Create(&invoice).Error)

	result, err := f.svc.RollupMonth(context.Background(), may.AddDate(0, 0, 17))
	require.NoError(t, err)

	assert.Equal(t, may, result.Month)
	assert.Equal(t, 1, result.ProjectsProcessed)

	var rollup financedomain.ProjectFinancial
	require.NoError(t, f.db.First(&rollup, "project_id = ?", f.projectID).Error)
	assert.Equal(t, int64(2000), rollup.ApprovedCost)
	assert.Equal(t, int64(3360), rollup.InvoicedRevenue)
	assert.Equal(t, int64(0), rollup.BudgetAmount)
}

func TestRollupMonth_UpsertKeepsOneRowPerMonth(t *testing.T) {
	f := newFinanceFixture(t)
	may := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.RollupMonth(context.Background(), may)
	require.NoError(t, err)

	entry := timesheetdomain.TimesheetEntry{
		ID:         f.genID.Generate(),
		TenantID:   f.tenantID,
		ProjectID:  f.projectID,
		EntryDate:  may.AddDate(0, 0, 5),
		CostAmount: 700,
		Status:     timesheetdomain.EntryStatusApproved,
	}
	require.NoError(t, f.db.Create(&entry).Error)

	_, err = f.svc.RollupMonth(context.Background(), may)
	require.NoError(t, err)

	var count int64
	require.NoError(t, f.db.Model(&financedomain.ProjectFinancial{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var rollup financedomain.ProjectFinancial
	require.NoError(t, f.db.First(&rollup, "project_id = ?", f.projectID).Error)
	assert.Equal(t, int64(700), rollup.ApprovedCost)
}

func TestRollupMonth_SkipsCompletedProjects(t *testing.T) {
	f := newFinanceFixture(t)
	completed := projectdomain.Project{
		ID:       f.genID.Generate(),
		TenantID: f.tenantID,
		Name:     "Closed Engagement",
		Status:   projectdomain.ProjectStatusCompleted,
	}
	require.NoError(t, f.db.Create(&completed).Error)

	result, err := f.svc.RollupMonth(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProjectsProcessed)
}
