package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReminderType describes what a reminder nudges about.
type ReminderType string

const (
	ReminderTypeDeadline    ReminderType = "deadline"
	ReminderTypePreparation ReminderType = "preparation"
	ReminderTypeFollowUp    ReminderType = "follow_up"
)

func ParseReminderType(raw string) ReminderType {
	switch t := ReminderType(strings.ToLower(strings.TrimSpace(raw))); t {
	case ReminderTypeDeadline, ReminderTypePreparation, ReminderTypeFollowUp:
		return t
	default:
		return ReminderTypePreparation
	}
}

// NotificationText is a ready-made push title and body.
type NotificationText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Reminder is a single scheduled nudge owned by a task.
//
// ReminderTime holds RFC 3339 UTC for reminders written by this service.
// Older records may carry naive local timestamps, which are resolved with
// the owner's timezone when read.
type Reminder struct {
	ID           string            `json:"id"`
	TaskID       string            `json:"task_id"`
	ReminderTime string            `json:"reminder_time"`
	Message      string            `json:"message"`
	Type         ReminderType      `json:"type"`
	Notification *NotificationText `json:"notification,omitempty"`
	Sent         bool              `json:"sent"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// NewReminderID returns a fresh reminder identifier.
func NewReminderID() string {
	return "rem_" + uuid.NewString()
}

// BackfillReminderIDs assigns ids to legacy reminders that lack one and links
// them to the task once it has an id. It reports whether anything changed.
func BackfillReminderIDs(t *Task) bool {
	changed := false
	for i := range t.Reminders {
		r := &t.Reminders[i]
		if r.ID == "" {
			r.ID = NewReminderID()
			changed = true
		}
		if r.TaskID == "" && t.ID != "" {
			r.TaskID = t.ID
			changed = true
		}
	}
	return changed
}
