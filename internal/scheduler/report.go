package scheduler

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobResult is the outcome of one nightly job. A failed job is data in
// the report, not a transport error.
type JobResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Processed  int64  `json:"processed"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type JobRunReport struct {
	RunID      string      `json:"run_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	TotalJobs  int         `json:"total_jobs"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Jobs       []JobResult `json:"jobs"`
}

// JobRunRecord keeps the report queryable after the fact.
type JobRunRecord struct {
	ID         snowflake.ID      `gorm:"column:id;primaryKey" json:"id"`
	StartedAt  time.Time         `gorm:"column:started_at" json:"started_at"`
	FinishedAt time.Time         `gorm:"column:finished_at" json:"finished_at"`
	TotalJobs  int               `gorm:"column:total_jobs" json:"total_jobs"`
	Succeeded  int               `gorm:"column:succeeded" json:"succeeded"`
	Failed     int               `gorm:"column:failed" json:"failed"`
	Detail     datatypes.JSONMap `gorm:"column:detail" json:"detail"`
	CreatedAt  time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (JobRunRecord) TableName() string {
	return "job_runs"
}
