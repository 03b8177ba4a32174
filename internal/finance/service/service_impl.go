package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wipline/internal/clock"
	financedomain "github.com/smallbiznis/wipline/internal/finance/domain"
	obslogger "github.com/smallbiznis/wipline/internal/observability/logger"
	projectdomain "github.com/smallbiznis/wipline/internal/project/domain"
	timesheetdomain "github.com/smallbiznis/wipline/internal/timesheet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) financedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("finance.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// RollupMonth upserts the per-(project, month) financials for every billable
// project across all tenants. Approved cost comes from timesheets, invoiced
// revenue from invoice headers dated within the month.
func (s *Service) RollupMonth(ctx context.Context, month time.Time) (*financedomain.RollupResult, error) {
	monthStart := truncateToMonth(month)
	monthEnd := monthStart.AddDate(0, 1, 0)

	var projects []projectdomain.Project
	err := s.db.WithContext(ctx).
		Where("status IN ?", []projectdomain.ProjectStatus{
			projectdomain.ProjectStatusPlanning,
			projectdomain.ProjectStatusActive,
		}).
		Find(&projects).Error
	if err != nil {
		return nil, err
	}

	result := &financedomain.RollupResult{Month: monthStart}
	for _, project := range projects {
		if err := s.rollupProject(ctx, project, monthStart, monthEnd); err != nil {
			return nil, err
		}
		result.ProjectsProcessed++
	}

	obslogger.WithContext(ctx, s.log).Info("monthly rollup complete",
		zap.Time("month", monthStart),
		zap.Int("projects_processed", result.ProjectsProcessed),
	)
	return result, nil
}

func (s *Service) rollupProject(ctx context.Context, project projectdomain.Project, monthStart, monthEnd time.Time) error {
	var cost struct {
		Total int64 `gorm:"column:total"`
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(cost_amount), 0) AS total
		 FROM timesheet_entries
		 WHERE tenant_id = ? AND project_id = ?
		   AND status = ?
		   AND entry_date >= ? AND entry_date < ?`,
		project.TenantID,
		project.ID,
		string(timesheetdomain.EntryStatusApproved),
		monthStart,
		monthEnd,
	).Scan(&cost).Error
	if err != nil {
		return err
	}

	var revenue struct {
		Total int64 `gorm:"column:total"`
	}
	err = s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(total_amount), 0) AS total
		 FROM invoices
		 WHERE tenant_id = ? AND project_id = ?
		   AND invoice_date >= ? AND invoice_date < ?`,
		project.TenantID,
		project.ID,
		monthStart,
		monthEnd,
	).Scan(&revenue).Error
	if err != nil {
		return err
	}

	record := financedomain.ProjectFinancial{
		ID:              s.genID.Generate(),
		TenantID:        project.TenantID,
		ProjectID:       project.ID,
		Month:           monthStart,
		ApprovedCost:    cost.Total,
		InvoicedRevenue: revenue.Total,
		BudgetAmount:    0,
		UpdatedAt:       s.clock.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "month"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"approved_cost", "invoiced_revenue", "updated_at",
		}),
	}).Create(&record).Error
}

func truncateToMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
