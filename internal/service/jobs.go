package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	JobCheckDueReminders = "check_due_reminders"
	JobDailySummaries    = "daily_summaries"
	JobCleanupOldTasks   = "cleanup_old_tasks"
	JobHealthCheck       = "health_check"
)

// JobConfig holds job triggers. Times are HH:MM in the scheduler's location.
type JobConfig struct {
	ScanInterval   time.Duration
	HealthInterval time.Duration
	SummaryTime    string
	CleanupTime    string
	CleanupAfter   time.Duration
}

// Jobs are the periodic background tasks of the service.
type Jobs struct {
	engine    *ReminderEngine
	summaries *SummaryService
	tasks     TaskStore
	times     *TimeNormalizer
	cfg       JobConfig
}

func NewJobs(engine *ReminderEngine, summaries *SummaryService, tasks TaskStore, times *TimeNormalizer, cfg JobConfig) *Jobs {
	return &Jobs{engine: engine, summaries: summaries, tasks: tasks, times: times, cfg: cfg}
}

// Register adds every job to s. base bounds the lifetime of job runs.
func (j *Jobs) Register(base context.Context, s *SchedulerService) error {
	timeout := j.cfg.ScanInterval
	if timeout <= 0 {
		timeout = time.Minute
	}
	if _, err := s.ScheduleInterval(JobCheckDueReminders, "Check due reminders", j.cfg.ScanInterval,
		j.wrap(base, JobCheckDueReminders, 5*timeout, j.CheckDueReminders)); err != nil {
		return err
	}
	if _, err := s.ScheduleDaily(JobDailySummaries, "Send daily summaries", j.cfg.SummaryTime,
		j.wrap(base, JobDailySummaries, 10*time.Minute, j.DailySummaries)); err != nil {
		return err
	}
	if _, err := s.ScheduleDaily(JobCleanupOldTasks, "Archive old completed tasks", j.cfg.CleanupTime,
		j.wrap(base, JobCleanupOldTasks, 10*time.Minute, func(ctx context.Context) error {
			_, err := j.CleanupOldTasks(ctx)
			return err
		})); err != nil {
		return err
	}
	if _, err := s.ScheduleInterval(JobHealthCheck, "Store health check", j.cfg.HealthInterval,
		j.wrap(base, JobHealthCheck, 30*time.Second, j.HealthCheck)); err != nil {
		return err
	}
	return nil
}

func (j *Jobs) CheckDueReminders(ctx context.Context) error {
	_, err := j.engine.RunPass(ctx)
	if errors.Is(err, ErrPassInProgress) {
		log.Warn().Msg("previous reminder pass still running, skipping")
		return nil
	}
	return err
}

func (j *Jobs) DailySummaries(ctx context.Context) error {
	sent, err := j.summaries.SendDailySummaries(ctx, j.times.Now())
	log.Info().Int("sent", sent).Msg("daily summaries sent")
	return err
}

// CleanupOldTasks archives completed tasks older than CleanupAfter.
func (j *Jobs) CleanupOldTasks(ctx context.Context) (int64, error) {
	now := j.times.Now()
	tasks, err := j.tasks.ListCompletedBefore(ctx, now.Add(-j.cfg.CleanupAfter))
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	n, err := j.tasks.Archive(ctx, ids, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("archived", n).Msg("archived old completed tasks")
	}
	return n, nil
}

func (j *Jobs) HealthCheck(ctx context.Context) error {
	if err := j.tasks.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store unhealthy: %w", err)
	}
	log.Debug().Bool("pass_running", j.engine.Running()).Msg("health check ok")
	return nil
}

func (j *Jobs) wrap(base context.Context, name string, timeout time.Duration, fn func(context.Context) error) func() {
	return func() {
		if base.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		}
	}
}
