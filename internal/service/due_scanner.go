package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"voice-planner/internal/model"
	"voice-planner/internal/repository"
)

// DueReminder is one unsent reminder whose time has come, with the snapshot
// it was found in.
type DueReminder struct {
	UserID     string
	TaskID     string
	ReminderID string
	Timezone   string
	DueAt      time.Time
	Task       model.Task
	Reminder   model.Reminder
}

// DueReminderScanner finds due reminders without mutating anything.
//
// Every pass walks every user. A larger deployment would index the next
// reminder time per user and query only near-due items.
type DueReminderScanner struct {
	tasks TaskStore
	users UserStore
	times *TimeNormalizer
}

func NewDueReminderScanner(tasks TaskStore, users UserStore, times *TimeNormalizer) *DueReminderScanner {
	return &DueReminderScanner{tasks: tasks, users: users, times: times}
}

// Scan returns all due reminders across users. A failing user is logged and
// skipped; only failing to list users is an error.
func (s *DueReminderScanner) Scan(ctx context.Context, now time.Time) ([]DueReminder, error) {
	userIDs, err := s.users.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var due []DueReminder
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return due, err
		}
		items, err := s.ScanUser(ctx, userID, now)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("scan user reminders")
			continue
		}
		due = append(due, items...)
	}
	return due, nil
}

// ScanUser returns the due reminders of one user's pending and approved tasks.
func (s *DueReminderScanner) ScanUser(ctx context.Context, userID string, now time.Time) ([]DueReminder, error) {
	tz, err := s.users.Timezone(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("timezone lookup failed, using UTC")
		tz = repository.DefaultTimezone
	}

	tasks, err := s.tasks.ListByUser(ctx, userID, repository.TaskFilter{Statuses: model.ActiveStatuses})
	if err != nil {
		return nil, err
	}

	var due []DueReminder
	for _, task := range tasks {
		if task.UserID != userID {
			continue
		}
		due = append(due, s.DueIn(task, tz, now)...)
	}
	return due, nil
}

// DueIn lists the task's unsent reminders at or before now. Reminders in the
// past are exactly what this looks for, so nothing is rejected for age here.
func (s *DueReminderScanner) DueIn(task model.Task, tz string, now time.Time) []DueReminder {
	if !task.Status.IsActive() {
		return nil
	}
	var due []DueReminder
	for _, r := range task.Reminders {
		if r.Sent || r.ID == "" {
			continue
		}
		at, _ := s.times.Normalize(r.ReminderTime, tz, false)
		if at.After(now) {
			continue
		}
		due = append(due, DueReminder{
			UserID:     task.UserID,
			TaskID:     task.ID,
			ReminderID: r.ID,
			Timezone:   tz,
			DueAt:      at,
			Task:       task,
			Reminder:   r,
		})
	}
	return due
}
