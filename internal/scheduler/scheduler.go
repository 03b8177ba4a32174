package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/wipline/internal/audit/domain"
	"github.com/smallbiznis/wipline/internal/clock"
	"github.com/smallbiznis/wipline/internal/config"
	financedomain "github.com/smallbiznis/wipline/internal/finance/domain"
	invoicedomain "github.com/smallbiznis/wipline/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/wipline/internal/observability/metrics"
	"github.com/smallbiznis/wipline/internal/providers/notification"
	"github.com/smallbiznis/wipline/internal/ratelimit"
	timesheetdomain "github.com/smallbiznis/wipline/internal/timesheet/domain"
	wipdomain "github.com/smallbiznis/wipline/internal/wip/domain"
	"github.com/smallbiznis/wipline/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig = errors.New("scheduler: invalid configuration")
	ErrRunInProgress = errors.New("nightly_run_in_progress")
	errJobTimedOut   = errors.New("job timed out")
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	WipSvc     wipdomain.Service
	InvoiceSvc invoicedomain.Service
	FinanceSvc financedomain.Service
	AuditSvc   auditdomain.Service

	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.FinancePolicyHolder
	Locker   *ratelimit.Locker `optional:"true"`
	Notifier notification.Port `optional:"true"`
	Config   Config            `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.FinancePolicyHolder
	wipSvc     wipdomain.Service
	invoiceSvc invoicedomain.Service
	financeSvc financedomain.Service
	auditSvc   auditdomain.Service
	locker     *ratelimit.Locker
	notifier   notification.Port
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.WipSvc == nil || p.InvoiceSvc == nil || p.FinanceSvc == nil || p.AuditSvc == nil || p.GenID == nil || p.Clock == nil || p.Policy == nil {
		return nil, ErrInvalidConfig
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = &notification.NoOpPort{}
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		wipSvc:     p.WipSvc,
		invoiceSvc: p.InvoiceSvc,
		financeSvc: p.FinanceSvc,
		auditSvc:   p.AuditSvc,
		locker:     p.Locker,
		notifier:   notifier,
	}, nil
}

// RunNightly executes the four maintenance jobs in sequence. Each job
// catches its own failure; one job failing never blocks the others. The
// returned report is the outcome even when every job failed, so a nil
// error only means the run itself went through.
func (s *Scheduler) RunNightly(ctx context.Context) (*JobRunReport, error) {
	if s.locker != nil {
		token, acquired, err := s.locker.TryLock(ctx, ratelimit.NightlyRunLockKey(), s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("nightly run lock unavailable, continuing without it", zap.Error(err))
		} else if !acquired {
			return nil, ErrRunInProgress
		} else {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), ratelimit.NightlyRunLockKey(), token); err != nil {
					s.log.Warn("nightly run lock release failed", zap.Error(err))
				}
			}()
		}
	}

	report := &JobRunReport{
		RunID:     s.genID.Generate().String(),
		StartedAt: s.clock.Now(),
	}

	jobs := []struct {
		Name string
		Run  func(context.Context) (int64, error)
	}{
		{"wip_recompute", s.wipRecomputeJob},
		{"mark_overdue", s.markOverdueJob},
		{"monthly_rollup", s.monthlyRollupJob},
		{"draft_cleanup", s.draftCleanupJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		report.Jobs = append(report.Jobs, s.runJob(ctx, job.Name, s.cfg.JobTimeout, job.Run))
	}

	report.FinishedAt = s.clock.Now()
	report.TotalJobs = len(report.Jobs)
	for _, result := range report.Jobs {
		if result.Status == JobStatusCompleted {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	s.persistReport(ctx, report)
	s.auditReport(ctx, report)
	s.notifier.Notify(ctx, notification.Event{
		Type: notification.EventNightlyReport,
		Payload: map[string]any{
			"run_id":    report.RunID,
			"total":     report.TotalJobs,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
		},
	})
	return report, nil
}

// runJob wraps one job with a timeout, metrics and run bookkeeping. A
// deadline is reported as failed in the report but the runner moves on.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) (int64, error)) JobResult {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	processed, err := fn(ctx)
	duration := time.Since(start)
	schedMetrics.ObserveJobDuration(name, duration)
	run.AddProcessed(processed)

	result := JobResult{
		Name:       name,
		Status:     JobStatusCompleted,
		Processed:  processed,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			schedMetrics.IncJobTimeout(name)
			err = errJobTimedOut
		}
		schedMetrics.IncJobError(name, err)
		if run.errorCount == 0 {
			run.IncError()
		}
		result.Status = JobStatusFailed
		result.Error = err.Error()
	}
	if owner {
		s.logJobFinish(ctx, run)
	}
	return result
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// wipRecomputeJob recalculates unbilled-work snapshots for every
// active or planned project, tenant by tenant. A tenant's failure is
// recorded and the sweep continues.
func (s *Scheduler) wipRecomputeJob(ctx context.Context) (int64, error) {
	run := jobRunFromContext(ctx)
	tenantIDs, err := s.listTenantIDs(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.tenants.fetch.failed", "wip_recompute", 0, err)
		return 0, err
	}

	var (
		processed int64
		jobErr    error
	)
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return processed, errors.Join(jobErr, ctx.Err())
		}
		tenantCtx := tenantctx.WithActor(tenantctx.WithTenantID(ctx, int64(tenantID)), tenantctx.ActorTypeSystem, "scheduler")
		resp, calcErr := s.wipSvc.CalculateWip(tenantCtx, wipdomain.CalculateRequest{})
		if calcErr != nil {
			jobErr = errors.Join(jobErr, calcErr)
			s.logSchedulerError(ctx, run, "scheduler.wip.recompute.failed", "wip_recompute", tenantID, calcErr)
			continue
		}
		processed += int64(resp.ProjectsProcessed)
		obsmetrics.Scheduler().AddBatchProcessed("wip_recompute", "project", resp.ProjectsProcessed)
		for _, failure := range resp.Failures {
			run.IncError()
			s.logger(s.withLogContext(ctx, tenantID)).Warn("scheduler.wip.project.skipped",
				zap.String("job", "wip_recompute"),
				zap.String("project_id", failure.ProjectID.String()),
				zap.String("reason", failure.Reason),
			)
		}
	}
	return processed, jobErr
}

func (s *Scheduler) markOverdueJob(ctx context.Context) (int64, error) {
	run := jobRunFromContext(ctx)
	updated, err := s.invoiceSvc.MarkOverdue(ctx, s.clock.Now())
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.invoice.mark_overdue.failed", "mark_overdue", 0, err)
		return 0, err
	}
	obsmetrics.Scheduler().AddBatchProcessed("mark_overdue", "invoice", int(updated))
	return updated, nil
}

func (s *Scheduler) monthlyRollupJob(ctx context.Context) (int64, error) {
	run := jobRunFromContext(ctx)
	result, err := s.financeSvc.RollupMonth(ctx, s.clock.Now())
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.finance.rollup.failed", "monthly_rollup", 0, err)
		return 0, err
	}
	obsmetrics.Scheduler().AddBatchProcessed("monthly_rollup", "project", result.ProjectsProcessed)
	return int64(result.ProjectsProcessed), nil
}

// draftCleanupJob deletes never-submitted draft entries older than the
// configured retention window.
func (s *Scheduler) draftCleanupJob(ctx context.Context) (int64, error) {
	run := jobRunFromContext(ctx)
	retention := s.policy.Current().DraftRetentionMonths
	cutoff := s.clock.Now().AddDate(0, -retention, 0)

	res := s.db.WithContext(ctx).Exec(
		`DELETE FROM timesheet_entries WHERE status = ? AND entry_date < ?`,
		string(timesheetdomain.EntryStatusDraft), cutoff,
	)
	if res.Error != nil {
		s.logSchedulerError(ctx, run, "scheduler.draft_cleanup.failed", "draft_cleanup", 0, res.Error)
		return 0, res.Error
	}
	obsmetrics.Scheduler().AddBatchProcessed("draft_cleanup", "timesheet_entry", int(res.RowsAffected))
	return res.RowsAffected, nil
}

func (s *Scheduler) listTenantIDs(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Table("tenants").
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Scheduler) persistReport(ctx context.Context, report *JobRunReport) {
	detail := datatypes.JSONMap{}
	for _, result := range report.Jobs {
		entry := map[string]any{
			"status":      result.Status,
			"processed":   result.Processed,
			"duration_ms": result.DurationMs,
		}
		if result.Error != "" {
			entry["error"] = result.Error
		}
		detail[result.Name] = entry
	}
	runID, err := snowflake.ParseString(report.RunID)
	if err != nil {
		runID = s.genID.Generate()
	}
	record := JobRunRecord{
		ID:         runID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		TotalJobs:  report.TotalJobs,
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Detail:     detail,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.log.Warn("job run record persist failed", zap.String("run_id", report.RunID), zap.Error(err))
	}
}

func (s *Scheduler) auditReport(ctx context.Context, report *JobRunReport) {
	actorID := "scheduler"
	if err := s.auditSvc.AuditLog(
		s.withLogContext(ctx, 0),
		nil,
		string(auditdomain.ActorTypeSystem),
		&actorID,
		"jobs.nightly_run",
		"job_run",
		&report.RunID,
		map[string]any{
			"total":     report.TotalJobs,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
		},
	); err != nil {
		s.log.Warn("nightly run audit failed", zap.String("run_id", report.RunID), zap.Error(err))
	}
}

// RunForever drives RunNightly on a fixed interval. Used by the
// standalone scheduler binary; the HTTP entry point stays single-shot.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if _, err := s.RunNightly(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.log.Warn("nightly run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
