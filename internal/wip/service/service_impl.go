package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wipline/internal/clock"
	"github.com/smallbiznis/wipline/internal/config"
	obslogger "github.com/smallbiznis/wipline/internal/observability/logger"
	projectdomain "github.com/smallbiznis/wipline/internal/project/domain"
	"github.com/smallbiznis/wipline/internal/providers/notification"
	wipdomain "github.com/smallbiznis/wipline/internal/wip/domain"
	"github.com/smallbiznis/wipline/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.FinancePolicyHolder
	Notifier notification.Port `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.FinancePolicyHolder
	notifier notification.Port
}

func NewService(p Params) wipdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("wip.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		notifier: p.Notifier,
	}
}

// CalculateWip aggregates unbilled approved billable time per project and
// upserts one snapshot per (project, as-of date). A single project's failure
// is recorded and skipped; the batch always runs to the end.
func (s *Service) CalculateWip(ctx context.Context, req wipdomain.CalculateRequest) (*wipdomain.CalculateResponse, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, wipdomain.ErrInvalidTenant
	}

	asOf := truncateToDate(s.clock.Now())
	if req.AsOfDate != nil {
		asOf = truncateToDate(*req.AsOfDate)
	}

	projects, err := s.resolveProjects(ctx, snowflake.ID(tenantID), req.ProjectID)
	if err != nil {
		return nil, err
	}

	policy := s.policy.Current()
	resp := &wipdomain.CalculateResponse{
		CalculationDate: asOf,
		Results:         make([]wipdomain.WipSnapshot, 0, len(projects)),
	}

	for _, project := range projects {
		snapshot, err := s.calculateProject(ctx, snowflake.ID(tenantID), project, asOf, policy)
		if err != nil {
			if req.ProjectID != nil {
				// An explicitly requested project fails the whole call.
				return nil, err
			}
			obslogger.WithContext(ctx, s.log).Warn("wip aggregation failed for project",
				zap.String("project_id", project.ID.String()),
				zap.Error(err),
			)
			resp.Failures = append(resp.Failures, wipdomain.ProjectFailure{
				ProjectID: project.ID,
				Reason:    err.Error(),
			})
			continue
		}

		resp.ProjectsProcessed++
		resp.TotalWip += snapshot.TotalWip()
		if snapshot.ReadyToInvoice {
			resp.ReadyToInvoiceCount++
		}
		resp.Results = append(resp.Results, *snapshot)
	}

	return resp, nil
}

func (s *Service) ListSnapshots(ctx context.Context, req wipdomain.ListSnapshotsRequest) ([]wipdomain.WipSnapshot, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, wipdomain.ErrInvalidTenant
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}

	stmt := s.db.WithContext(ctx).
		Where("tenant_id = ?", snowflake.ID(tenantID)).
		Order("as_of_date desc, project_id").
		Limit(limit)
	if req.ProjectID != nil {
		stmt = stmt.Where("project_id = ?", *req.ProjectID)
	}

	var snapshots []wipdomain.WipSnapshot
	if err := stmt.Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (s *Service) resolveProjects(ctx context.Context, tenantID snowflake.ID, projectID *snowflake.ID) ([]projectdomain.Project, error) {
	var projects []projectdomain.Project

	if projectID != nil {
		err := s.db.WithContext(ctx).
			Where("tenant_id = ? AND id = ?", tenantID, *projectID).
			Find(&projects).Error
		if err != nil {
			return nil, err
		}
		if len(projects) == 0 {
			return nil, projectdomain.ErrProjectNotFound
		}
		return projects, nil
	}

	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID, []projectdomain.ProjectStatus{
			projectdomain.ProjectStatusPlanning,
			projectdomain.ProjectStatusActive,
		}).
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

func (s *Service) calculateProject(ctx context.Context, tenantID snowflake.ID, project projectdomain.Project, asOf time.Time, policy config.FinancePolicy) (*wipdomain.WipSnapshot, error) {
	var agg struct {
		Total  int64      `gorm:"column:total"`
		Oldest *time.Time `gorm:"column:oldest"`
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(billable_amount), 0) AS total, MIN(entry_date) AS oldest
		 FROM timesheet_entries
		 WHERE tenant_id = ?
		   AND project_id = ?
		   AND status = ?
		   AND billable = ?
		   AND entry_date <= ?
		   AND invoice_line_id IS NULL`,
		tenantID,
		project.ID,
		string(projectApprovedStatus),
		true,
		asOf,
	).Scan(&agg).Error
	if err != nil {
		return nil, err
	}

	ageDays := 0
	if agg.Oldest != nil {
		ageDays = int(asOf.Sub(truncateToDate(*agg.Oldest)).Hours() / 24)
		if ageDays < 0 {
			ageDays = 0
		}
	}

	snapshot := wipdomain.WipSnapshot{
		ID:              s.genID.Generate(),
		TenantID:        tenantID,
		ProjectID:       project.ID,
		AsOfDate:        asOf,
		TimeWip:         agg.Total,
		ExpenseWip:      0,
		FeeWip:          0,
		OldestEntryDate: agg.Oldest,
		AgeDays:         ageDays,
		UpdatedAt:       s.clock.Now(),
	}
	snapshot.ReadyToInvoice = snapshot.TotalWip() > policy.ReadyAmountThreshold ||
		ageDays > policy.ReadyAgeDays

	wasReady, err := s.previouslyReady(ctx, tenantID, project.ID, asOf)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "as_of_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"time_wip", "expense_wip", "fee_wip",
			"oldest_entry_date", "age_days", "ready_to_invoice", "updated_at",
		}),
	}).Create(&snapshot).Error
	if err != nil {
		return nil, err
	}

	if snapshot.ReadyToInvoice && !wasReady && s.notifier != nil {
		s.notifier.Notify(ctx, notification.Event{
			Type:     notification.EventReadyToInvoice,
			TenantID: tenantID.String(),
			Payload: map[string]any{
				"project_id": project.ID.String(),
				"total_wip":  snapshot.TotalWip(),
				"age_days":   ageDays,
			},
		})
	}

	return &snapshot, nil
}

// previouslyReady reports whether the latest snapshot up to asOf already
// carried the ready flag, so ready-to-invoice notifications fire only on
// the flip.
func (s *Service) previouslyReady(ctx context.Context, tenantID, projectID snowflake.ID, asOf time.Time) (bool, error) {
	var prior []wipdomain.WipSnapshot
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND project_id = ? AND as_of_date <= ?", tenantID, projectID, asOf).
		Order("as_of_date desc").
		Limit(1).
		Find(&prior).Error
	if err != nil {
		return false, err
	}
	if len(prior) == 0 {
		return false, nil
	}
	return prior[0].ReadyToInvoice, nil
}

const projectApprovedStatus = "approved"

func truncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
