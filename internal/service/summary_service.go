package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"voice-planner/internal/model"
	"voice-planner/internal/repository"
)

const summaryListLimit = 3

// DailySummary is the morning digest for one user.
type DailySummary struct {
	UserID         string
	Pending        int64
	Approved       int64
	Completed      int64
	Overdue        []model.Task
	DueToday       []model.Task
	RemindersToday int
}

// Empty reports whether there is nothing worth sending.
func (s DailySummary) Empty() bool {
	return s.Pending+s.Approved == 0
}

// SummaryService builds and sends daily summaries.
type SummaryService struct {
	tasks      TaskStore
	users      UserStore
	dispatcher *NotificationDispatcher
	times      *TimeNormalizer
}

func NewSummaryService(tasks TaskStore, users UserStore, dispatcher *NotificationDispatcher, times *TimeNormalizer) *SummaryService {
	return &SummaryService{tasks: tasks, users: users, dispatcher: dispatcher, times: times}
}

func (s *SummaryService) DailySummary(ctx context.Context, userID string, now time.Time) (DailySummary, string, error) {
	tz, err := s.users.Timezone(ctx, userID)
	if err != nil {
		tz = repository.DefaultTimezone
	}
	loc := s.times.Location(tz)

	counts, err := s.tasks.CountByStatus(ctx, userID)
	if err != nil {
		return DailySummary{}, "", err
	}
	tasks, err := s.tasks.ListByUser(ctx, userID, repository.TaskFilter{Statuses: model.ActiveStatuses})
	if err != nil {
		return DailySummary{}, "", err
	}

	sum := DailySummary{
		UserID:    userID,
		Pending:   counts[model.TaskStatusPending],
		Approved:  counts[model.TaskStatusApproved],
		Completed: counts[model.TaskStatusCompleted],
	}

	today := now.In(loc)
	y, m, d := today.Date()
	for _, task := range tasks {
		if task.DueDate != nil {
			due := task.DueDate.In(loc)
			dy, dm, dd := due.Date()
			switch {
			case due.Before(today):
				sum.Overdue = append(sum.Overdue, task)
			case dy == y && dm == m && dd == d:
				sum.DueToday = append(sum.DueToday, task)
			}
		}
		for _, r := range task.Reminders {
			if r.Sent {
				continue
			}
			at, err := s.times.Resolve(r.ReminderTime, tz)
			if err != nil {
				continue
			}
			ry, rm, rd := at.In(loc).Date()
			if ry == y && rm == m && rd == d {
				sum.RemindersToday++
			}
		}
	}
	sortByDueDate(sum.Overdue)
	sortByDueDate(sum.DueToday)

	return sum, formatSummary(sum, loc), nil
}

// SendDailySummaries sends the digest to every user with active tasks.
func (s *SummaryService) SendDailySummaries(ctx context.Context, now time.Time) (int, error) {
	userIDs, err := s.users.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	sent := 0
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		sum, body, err := s.DailySummary(ctx, userID, now)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("build daily summary")
			continue
		}
		if sum.Empty() {
			continue
		}
		report, err := s.dispatcher.NotifyDailySummary(ctx, userID, body)
		switch {
		case errors.Is(err, ErrNoDeviceTokens), errors.Is(err, ErrSuppressed):
			continue
		case err != nil:
			log.Warn().Err(err).Str("user_id", userID).Msg("send daily summary")
			continue
		}
		if report.Delivered() > 0 {
			sent++
		}
	}
	return sent, nil
}

func sortByDueDate(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		switch {
		case tasks[i].DueDate == nil && tasks[j].DueDate == nil:
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		case tasks[i].DueDate == nil:
			return false
		case tasks[j].DueDate == nil:
			return true
		default:
			return tasks[i].DueDate.Before(*tasks[j].DueDate)
		}
	})
}

func formatSummary(sum DailySummary, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %d active task(s): %d approved, %d awaiting approval.",
		sum.Pending+sum.Approved, sum.Approved, sum.Pending)
	if len(sum.Overdue) > 0 {
		fmt.Fprintf(&sb, "\n⚠️ Overdue: %s", taskTitles(sum.Overdue, nil))
	}
	if len(sum.DueToday) > 0 {
		fmt.Fprintf(&sb, "\n⏳ Due today: %s", taskTitles(sum.DueToday, loc))
	}
	if sum.RemindersToday > 0 {
		fmt.Fprintf(&sb, "\n🔔 %d reminder(s) scheduled for today.", sum.RemindersToday)
	}
	if sum.Completed > 0 {
		fmt.Fprintf(&sb, "\n✅ %d task(s) completed so far.", sum.Completed)
	}
	return sb.String()
}

// taskTitles lists up to summaryListLimit titles, with due times when loc is set.
func taskTitles(tasks []model.Task, loc *time.Location) string {
	parts := make([]string, 0, summaryListLimit+1)
	for i, task := range tasks {
		if i == summaryListLimit {
			parts = append(parts, fmt.Sprintf("+%d more", len(tasks)-summaryListLimit))
			break
		}
		title := strings.TrimSpace(task.Title)
		if loc != nil && task.DueDate != nil {
			title += " (" + task.DueDate.In(loc).Format("15:04") + ")"
		}
		parts = append(parts, title)
	}
	return strings.Join(parts, ", ")
}
