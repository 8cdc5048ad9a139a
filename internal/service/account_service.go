package service

import (
	"context"
	"strings"
	"time"

	"voice-planner/internal/model"
)

// AccountService manages per-user delivery settings.
type AccountService struct {
	users      UserStore
	tokens     TokenRegistry
	history    HistoryStore
	dispatcher *NotificationDispatcher
}

func NewAccountService(users UserStore, tokens TokenRegistry, history HistoryStore, dispatcher *NotificationDispatcher) *AccountService {
	return &AccountService{users: users, tokens: tokens, history: history, dispatcher: dispatcher}
}

func (s *AccountService) SetTimezone(ctx context.Context, userID, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return NewValidationError("timezone", "is required")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return NewValidationError("timezone", "is not a known IANA timezone")
	}
	return s.users.SetTimezone(ctx, userID, tz)
}

// Timezone returns the user's IANA timezone or the store default.
func (s *AccountService) Timezone(ctx context.Context, userID string) (string, error) {
	return s.users.Timezone(ctx, userID)
}

func (s *AccountService) RegisterDevice(ctx context.Context, userID, token, platform string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return NewValidationError("token", "is required")
	}
	if platform == "" {
		platform = "unknown"
	}
	return s.tokens.AddToken(ctx, userID, token, platform)
}

func (s *AccountService) UnregisterDevice(ctx context.Context, userID, token string) error {
	return s.tokens.RemoveTokens(ctx, userID, []string{token})
}

func (s *AccountService) Notifications(ctx context.Context, userID string, limit int) ([]model.NotificationRecord, error) {
	return s.history.ListByUser(ctx, userID, limit)
}

func (s *AccountService) Preferences(ctx context.Context, userID string) (model.NotificationPreferences, error) {
	return s.users.Preferences(ctx, userID)
}

// PreferencesPatch changes only the switches that are set.
type PreferencesPatch struct {
	TaskReminders   *bool `json:"task_reminders"`
	TaskApprovals   *bool `json:"task_approvals"`
	TaskCompletions *bool `json:"task_completions"`
	DailySummaries  *bool `json:"daily_summaries"`
}

func (s *AccountService) UpdatePreferences(ctx context.Context, userID string, patch PreferencesPatch) (model.NotificationPreferences, error) {
	prefs, err := s.users.Preferences(ctx, userID)
	if err != nil {
		return prefs, err
	}
	for dst, src := range map[*bool]*bool{
		&prefs.TaskReminders:   patch.TaskReminders,
		&prefs.TaskApprovals:   patch.TaskApprovals,
		&prefs.TaskCompletions: patch.TaskCompletions,
		&prefs.DailySummaries:  patch.DailySummaries,
	} {
		if src != nil {
			*dst = *src
		}
	}
	if err := s.users.SetPreferences(ctx, userID, prefs); err != nil {
		return prefs, err
	}
	return prefs, nil
}

// SendTestNotification pushes a test message to every device of the user.
// Empty title or body fall back to defaults.
func (s *AccountService) SendTestNotification(ctx context.Context, userID, title, body string) (DispatchReport, error) {
	return s.dispatcher.NotifyTest(ctx, userID, title, body)
}
