package service

import (
	"context"
	"time"

	"voice-planner/internal/model"
	"voice-planner/internal/repository"
)

// TaskStore is the persistence the reminder engine needs.
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	ListByUser(ctx context.Context, userID string, filter repository.TaskFilter) ([]model.Task, error)
	Update(ctx context.Context, task *model.Task, columns ...string) error
	MarkReminderSent(ctx context.Context, taskID, reminderID string, sentAt time.Time) (*model.Task, bool, error)
	ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]model.Task, error)
	Archive(ctx context.Context, ids []string, at time.Time) (int64, error)
	CountByStatus(ctx context.Context, userID string) (map[model.TaskStatus]int64, error)
	HealthCheck(ctx context.Context) error
}

type UserStore interface {
	EnsureUser(ctx context.Context, userID string) (*model.User, error)
	ListIDs(ctx context.Context) ([]string, error)
	Timezone(ctx context.Context, userID string) (string, error)
	SetTimezone(ctx context.Context, userID, tz string) error
	PreferenceStore
	SetPreferences(ctx context.Context, userID string, prefs model.NotificationPreferences) error
}

// PreferenceStore reads per-user notification switches. The dispatcher uses
// it when its token registry implements it.
type PreferenceStore interface {
	Preferences(ctx context.Context, userID string) (model.NotificationPreferences, error)
}

// TokenRegistry tracks where a user's notifications go.
type TokenRegistry interface {
	Tokens(ctx context.Context, userID string) ([]string, error)
	AddToken(ctx context.Context, userID, token, platform string) error
	RemoveTokens(ctx context.Context, userID string, tokens []string) error
}

type HistoryStore interface {
	Append(ctx context.Context, rec *model.NotificationRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.NotificationRecord, error)
}

var (
	_ TaskStore       = (*repository.TaskRepository)(nil)
	_ UserStore       = (*repository.UserRepository)(nil)
	_ TokenRegistry   = (*repository.UserRepository)(nil)
	_ HistoryStore    = (*repository.NotificationRepository)(nil)
	_ PreferenceStore = (*repository.UserRepository)(nil)
)
