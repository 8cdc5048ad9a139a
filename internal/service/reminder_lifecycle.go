package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"voice-planner/internal/model"
)

// DefaultStalenessThreshold is how overdue a reminder may get before it is
// retired without a notification.
const DefaultStalenessThreshold = time.Hour

// Outcome is what processing one due reminder ended in.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeStale     Outcome = "stale"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// ReminderLifecycleManager takes a due reminder through delivery, the sent
// latch and task auto-completion. Delivered and Stale are terminal; Failed and
// Skipped leave the reminder unsent so a later pass sees it again.
type ReminderLifecycleManager struct {
	tasks      TaskStore
	dispatcher *NotificationDispatcher
	times      *TimeNormalizer
	staleAfter time.Duration
}

func NewReminderLifecycleManager(tasks TaskStore, dispatcher *NotificationDispatcher, times *TimeNormalizer, staleAfter time.Duration) *ReminderLifecycleManager {
	if staleAfter <= 0 {
		staleAfter = DefaultStalenessThreshold
	}
	return &ReminderLifecycleManager{tasks: tasks, dispatcher: dispatcher, times: times, staleAfter: staleAfter}
}

func (m *ReminderLifecycleManager) Process(ctx context.Context, due DueReminder) Outcome {
	logger := log.With().
		Str("user_id", due.UserID).
		Str("task_id", due.TaskID).
		Str("reminder_id", due.ReminderID).
		Logger()

	task, err := m.tasks.Get(ctx, due.TaskID)
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Warn().Msg("task vanished before delivery")
		return OutcomeSkipped
	case err != nil:
		logger.Error().Err(err).Msg("reload task")
		return OutcomeFailed
	}
	if task.UserID != due.UserID {
		logger.Error().Str("owner", task.UserID).Msg("task owner mismatch")
		return OutcomeSkipped
	}
	if !task.Status.IsActive() {
		return OutcomeSkipped
	}
	rem := task.FindReminder(due.ReminderID)
	if rem == nil {
		logger.Warn().Msg("reminder vanished before delivery")
		return OutcomeSkipped
	}
	if rem.Sent {
		return OutcomeSkipped
	}

	now := m.times.Now()
	at, _ := m.times.Normalize(rem.ReminderTime, due.Timezone, false)
	if age := now.Sub(at); age > m.staleAfter {
		updated, changed, err := m.tasks.MarkReminderSent(ctx, task.ID, rem.ID, now)
		if err != nil {
			logger.Error().Err(err).Msg("mark stale reminder")
			return OutcomeFailed
		}
		if !changed {
			return OutcomeSkipped
		}
		logger.Info().Dur("age", age).Msg("retired stale reminder without notifying")
		m.autoComplete(ctx, updated, now)
		return OutcomeStale
	}

	report, err := m.dispatcher.NotifyReminder(ctx, *task, *rem)
	switch {
	case errors.Is(err, ErrSuppressed):
		logger.Debug().Err(err).Msg("reminder held back")
		return OutcomeSkipped
	case err != nil:
		logger.Warn().Err(err).Msg("reminder not delivered")
		return OutcomeFailed
	case report.Delivered() == 0:
		logger.Warn().Int("tokens", len(report)).Msg("no token accepted the reminder")
		return OutcomeFailed
	}

	updated, changed, err := m.tasks.MarkReminderSent(ctx, task.ID, rem.ID, now)
	if err != nil {
		// The push went out but the latch did not; the next pass may resend.
		logger.Error().Err(err).Msg("mark delivered reminder")
		return OutcomeFailed
	}
	if changed {
		m.autoComplete(ctx, updated, now)
	}
	logger.Info().Int("delivered", report.Delivered()).Msg("reminder delivered")
	return OutcomeDelivered
}

// autoComplete closes a task without a due date once all its reminders are sent.
func (m *ReminderLifecycleManager) autoComplete(ctx context.Context, task *model.Task, now time.Time) {
	if task == nil || task.DueDate != nil || !task.Status.IsActive() || !task.AllRemindersSent() {
		return
	}
	task.Status = model.TaskStatusCompleted
	task.CompletedAt = &now
	if err := m.tasks.Update(ctx, task, "status", "completed_at"); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("auto-complete task")
		return
	}
	log.Info().Str("task_id", task.ID).Str("user_id", task.UserID).Msg("task auto-completed")

	if _, err := m.dispatcher.NotifyCompletion(ctx, *task); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("completion notification")
	}
}
