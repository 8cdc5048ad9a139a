package service

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// JobStatus describes one registered job.
type JobStatus struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Trigger string     `json:"trigger"`
	NextRun *time.Time `json:"next_run"`
	PrevRun *time.Time `json:"prev_run,omitempty"`
}

type SchedulerStatus struct {
	Status   string      `json:"status"`
	Jobs     []JobStatus `json:"jobs"`
	JobCount int         `json:"job_count"`
}

type scheduledJob struct {
	entry   cron.EntryID
	id      string
	name    string
	trigger string
}

// SchedulerService wraps cron-based jobs. A job still running when its next
// tick arrives is skipped; a panicking job is recovered and logged.
type SchedulerService struct {
	cron *cron.Cron

	mu      sync.Mutex
	jobs    []scheduledJob
	running bool
}

func NewSchedulerService(loc *time.Location) *SchedulerService {
	logger := cronLogger{log: log.With().Str("component", "cron").Logger()}
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// ScheduleDaily registers a daily job at the given HH:MM time string.
func (s *SchedulerService) ScheduleDaily(id, name, timeStr string, job func()) (cron.EntryID, error) {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	return s.add(id, name, "cron["+timeStr+" daily]", spec, job)
}

// ScheduleInterval registers a periodic job every given duration.
func (s *SchedulerService) ScheduleInterval(id, name string, interval time.Duration, job func()) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	return s.add(id, name, "interval["+(time.Duration(seconds)*time.Second).String()+"]", spec, job)
}

func (s *SchedulerService) add(id, name, trigger, spec string, job func()) (cron.EntryID, error) {
	entry, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", id, err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, scheduledJob{entry: entry, id: id, name: name, trigger: trigger})
	s.mu.Unlock()
	return entry, nil
}

func (s *SchedulerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
}

// Stop halts scheduling and waits for running jobs.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *SchedulerService) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{Status: "stopped", Jobs: make([]JobStatus, 0, len(s.jobs))}
	if s.running {
		status.Status = "running"
	}
	for _, job := range s.jobs {
		js := JobStatus{ID: job.id, Name: job.name, Trigger: job.trigger}
		entry := s.cron.Entry(job.entry)
		if !entry.Next.IsZero() {
			next := entry.Next
			js.NextRun = &next
		}
		if !entry.Prev.IsZero() {
			prev := entry.Prev
			js.PrevRun = &prev
		}
		status.Jobs = append(status.Jobs, js)
	}
	status.JobCount = len(status.Jobs)
	return status
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
