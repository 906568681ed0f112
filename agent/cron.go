package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hermitdroid/hermitdroid/db/models"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// 5-field cron expressions, minutes resolution, evaluated in UTC.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronStore manages the persistent cron_jobs table. Due jobs do not
// run directly; their task text is folded into the next heartbeat tick
// so every resulting action still passes the gate.
type CronStore struct {
	gdb *gorm.DB
}

func NewCronStore(gdb *gorm.DB) *CronStore { return &CronStore{gdb: gdb} }

type CronJobSpec struct {
	Name            string
	Task            string
	Schedule        string
	IntervalSeconds int64
	RunOnce         bool
	Enabled         bool
	Model           string
	TimeoutSeconds  int64
}

// Upsert creates or updates a job by name. NextRunAt is cleared so the
// scheduler recomputes it on its next pass.
func (s *CronStore) Upsert(ctx context.Context, spec CronJobSpec) (models.CronJob, error) {
	if s == nil || s.gdb == nil {
		return models.CronJob{}, fmt.Errorf("cron store not configured")
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return models.CronJob{}, fmt.Errorf("missing job name")
	}
	task := strings.TrimSpace(spec.Task)
	if task == "" {
		return models.CronJob{}, fmt.Errorf("missing job task")
	}
	schedule := strings.TrimSpace(spec.Schedule)
	if schedule == "" && spec.IntervalSeconds <= 0 {
		return models.CronJob{}, fmt.Errorf("missing schedule or interval_seconds")
	}
	if schedule != "" && spec.IntervalSeconds > 0 {
		return models.CronJob{}, fmt.Errorf("provide only one of schedule or interval_seconds")
	}
	if schedule != "" {
		if _, err := cronParser.Parse(schedule); err != nil {
			return models.CronJob{}, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
		}
	}

	now := time.Now().UTC().Unix()
	var job models.CronJob
	err := s.gdb.WithContext(ctx).Where("name = ?", name).First(&job).Error
	isCreate := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isCreate {
		return models.CronJob{}, err
	}

	job.Name = name
	job.Task = task
	job.Enabled = spec.Enabled
	job.RunOnce = spec.RunOnce
	if job.OverlapPolicy == "" {
		job.OverlapPolicy = "forbid"
	}
	if schedule != "" {
		job.Schedule = &schedule
		job.IntervalSeconds = nil
	} else {
		job.Schedule = nil
		iv := spec.IntervalSeconds
		job.IntervalSeconds = &iv
	}
	if m := strings.TrimSpace(spec.Model); m != "" {
		job.Model = &m
	} else {
		job.Model = nil
	}
	if spec.TimeoutSeconds > 0 {
		ts := spec.TimeoutSeconds
		job.TimeoutSeconds = &ts
	} else {
		job.TimeoutSeconds = nil
	}
	job.NextRunAt = nil
	job.UpdatedAt = now

	if isCreate {
		job.ID = "cron_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		job.CreatedAt = now
		return job, s.gdb.WithContext(ctx).Create(&job).Error
	}
	return job, s.gdb.WithContext(ctx).Save(&job).Error
}

func (s *CronStore) List(ctx context.Context) ([]models.CronJob, error) {
	if s == nil || s.gdb == nil {
		return nil, nil
	}
	var jobs []models.CronJob
	err := s.gdb.WithContext(ctx).Order("name asc").Find(&jobs).Error
	return jobs, err
}

// Due reconciles NULL next_run_at values, then returns enabled jobs
// whose next run is at or before now and advances them: run-once jobs
// are disabled, the rest get a fresh NextRunAt.
func (s *CronStore) Due(ctx context.Context, now time.Time) ([]models.CronJob, error) {
	if s == nil || s.gdb == nil {
		return nil, nil
	}
	now = now.UTC()

	var jobs []models.CronJob
	if err := s.gdb.WithContext(ctx).Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return nil, err
	}

	var due []models.CronJob
	for i := range jobs {
		job := &jobs[i]
		if job.NextRunAt == nil {
			next, err := nextRun(job, now)
			if err != nil {
				continue
			}
			ts := next.Unix()
			job.NextRunAt = &ts
			job.UpdatedAt = now.Unix()
			if err := s.gdb.WithContext(ctx).Save(job).Error; err != nil {
				return nil, err
			}
			continue
		}
		if *job.NextRunAt > now.Unix() {
			continue
		}

		ranAt := now.Unix()
		job.LastRunAt = &ranAt
		if job.RunOnce {
			job.Enabled = false
			job.NextRunAt = nil
		} else {
			next, err := nextRun(job, now)
			if err != nil {
				job.Enabled = false
				job.NextRunAt = nil
			} else {
				ts := next.Unix()
				job.NextRunAt = &ts
			}
		}
		job.UpdatedAt = now.Unix()
		if err := s.gdb.WithContext(ctx).Save(job).Error; err != nil {
			return nil, err
		}
		due = append(due, *job)
	}
	return due, nil
}

func nextRun(job *models.CronJob, now time.Time) (time.Time, error) {
	if job.Schedule != nil && strings.TrimSpace(*job.Schedule) != "" {
		sched, err := cronParser.Parse(*job.Schedule)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(now), nil
	}
	if job.IntervalSeconds != nil && *job.IntervalSeconds > 0 {
		return now.Add(time.Duration(*job.IntervalSeconds) * time.Second), nil
	}
	return time.Time{}, fmt.Errorf("job %s has no schedule", job.Name)
}
