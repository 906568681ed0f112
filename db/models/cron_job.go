package models

type CronJob struct {
	ID              string  `gorm:"column:id;type:text;primaryKey"`
	Name            string  `gorm:"column:name;type:text;not null;uniqueIndex:uniq_cron_job_name"`
	Task            string  `gorm:"column:task;type:text;not null"`
	Enabled         bool    `gorm:"column:enabled;not null"`
	RunOnce         bool    `gorm:"column:run_once;not null"`
	OverlapPolicy   string  `gorm:"column:overlap_policy;type:text;not null"`
	Schedule        *string `gorm:"column:schedule;type:text"`
	IntervalSeconds *int64  `gorm:"column:interval_seconds"`
	Model           *string `gorm:"column:model;type:text"`
	TimeoutSeconds  *int64  `gorm:"column:timeout_seconds"`
	NextRunAt       *int64  `gorm:"column:next_run_at;index:idx_cron_jobs_next_run"`
	LastRunAt       *int64  `gorm:"column:last_run_at"`
	CreatedAt       int64   `gorm:"column:created_at;not null"`
	UpdatedAt       int64   `gorm:"column:updated_at;not null"`
}

func (CronJob) TableName() string { return "cron_jobs" }
