package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// MaxDispatchWorkers caps concurrent per-user delivery.
const MaxDispatchWorkers = 20

// PassStats summarizes one scan-and-deliver pass.
type PassStats struct {
	Due       int           `json:"due"`
	Delivered int           `json:"delivered"`
	Stale     int           `json:"stale"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

func (s *PassStats) add(o Outcome) {
	switch o {
	case OutcomeDelivered:
		s.Delivered++
	case OutcomeStale:
		s.Stale++
	case OutcomeFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

// ReminderEngine runs scan passes. Users are processed in parallel by a
// bounded pool; one user's reminders run in order on a single worker.
// Passes never overlap.
type ReminderEngine struct {
	scanner   *DueReminderScanner
	lifecycle *ReminderLifecycleManager
	times     *TimeNormalizer
	workers   int

	running atomic.Bool
}

func NewReminderEngine(scanner *DueReminderScanner, lifecycle *ReminderLifecycleManager, times *TimeNormalizer, workers int) *ReminderEngine {
	if workers <= 0 || workers > MaxDispatchWorkers {
		workers = MaxDispatchWorkers
	}
	return &ReminderEngine{scanner: scanner, lifecycle: lifecycle, times: times, workers: workers}
}

// RunPass scans once and processes every due reminder. It returns
// ErrPassInProgress when another pass has not finished.
func (e *ReminderEngine) RunPass(ctx context.Context) (PassStats, error) {
	if !e.running.CompareAndSwap(false, true) {
		return PassStats{}, ErrPassInProgress
	}
	defer e.running.Store(false)

	start := time.Now()
	now := e.times.Now()
	due, err := e.scanner.Scan(ctx, now)
	if err != nil {
		return PassStats{}, fmt.Errorf("scan: %w", err)
	}

	byUser := make(map[string][]DueReminder)
	var users []string
	for _, d := range due {
		if _, ok := byUser[d.UserID]; !ok {
			users = append(users, d.UserID)
		}
		byUser[d.UserID] = append(byUser[d.UserID], d)
	}

	var (
		mu    sync.Mutex
		stats = PassStats{Due: len(due)}
	)
	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for _, userID := range users {
		items := byUser[userID]
		sort.SliceStable(items, func(i, j int) bool { return items[i].DueAt.Before(items[j].DueAt) })
		g.Go(func() error {
			for _, item := range items {
				outcome := e.processSafe(ctx, item)
				mu.Lock()
				stats.add(outcome)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(start)
	if stats.Due > 0 {
		log.Info().
			Int("due", stats.Due).
			Int("delivered", stats.Delivered).
			Int("stale", stats.Stale).
			Int("failed", stats.Failed).
			Int("skipped", stats.Skipped).
			Dur("took", stats.Duration).
			Msg("reminder pass finished")
	}
	return stats, nil
}

// Running reports whether a pass is in progress.
func (e *ReminderEngine) Running() bool {
	return e.running.Load()
}

func (e *ReminderEngine) processSafe(ctx context.Context, item DueReminder) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("task_id", item.TaskID).
				Str("reminder_id", item.ReminderID).
				Msg("reminder processing panicked")
			outcome = OutcomeFailed
		}
	}()
	if err := ctx.Err(); err != nil {
		return OutcomeSkipped
	}
	return e.lifecycle.Process(ctx, item)
}
