package model

import "time"

// User holds per-user delivery settings.
type User struct {
	ID          string                   `gorm:"primaryKey;size:128"`
	Timezone    string                   `gorm:"size:64"`
	Preferences *NotificationPreferences `gorm:"serializer:json;type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NotificationPreferences switches notification kinds on or off for a user.
// A user without stored preferences gets DefaultNotificationPreferences.
type NotificationPreferences struct {
	TaskReminders   bool `json:"task_reminders"`
	TaskApprovals   bool `json:"task_approvals"`
	TaskCompletions bool `json:"task_completions"`
	DailySummaries  bool `json:"daily_summaries"`
}

func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{TaskReminders: true, TaskApprovals: true, TaskCompletions: true, DailySummaries: true}
}

// Allows reports whether kind may be pushed. Kinds without a switch are always allowed.
func (p NotificationPreferences) Allows(kind NotificationKind) bool {
	switch kind {
	case NotificationReminder:
		return p.TaskReminders
	case NotificationApproval:
		return p.TaskApprovals
	case NotificationCompletion:
		return p.TaskCompletions
	case NotificationDailySummary:
		return p.DailySummaries
	default:
		return true
	}
}

// DeviceToken is a push destination registered by a user. For the Telegram
// transport the token is the chat id.
type DeviceToken struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex:idx_device_user_token;size:128;not null"`
	Token     string `gorm:"uniqueIndex:idx_device_user_token;size:512;not null"`
	Platform  string `gorm:"size:32"`
	CreatedAt time.Time
}
