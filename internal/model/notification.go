package model

import "time"

// NotificationKind separates cooldown windows and history entries.
type NotificationKind string

const (
	NotificationReminder     NotificationKind = "reminder"
	NotificationApproval     NotificationKind = "approval"
	NotificationCompletion   NotificationKind = "completion"
	NotificationDailySummary NotificationKind = "daily_summary"
	NotificationTest         NotificationKind = "test"
)

// NotificationRecord is one entry of a user's notification history.
type NotificationRecord struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	UserID     string           `gorm:"index;size:128;not null" json:"user_id"`
	Kind       NotificationKind `gorm:"size:32" json:"kind"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	TaskID     string           `gorm:"size:64" json:"task_id,omitempty"`
	ReminderID string           `gorm:"size:64" json:"reminder_id,omitempty"`
	Delivered  int              `json:"delivered"`
	Failed     int              `json:"failed"`
	Invalid    int              `json:"invalid"`
	CreatedAt  time.Time        `gorm:"index" json:"created_at"`
}
