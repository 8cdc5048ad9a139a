package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusApproved  TaskStatus = "approved"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusDeleted   TaskStatus = "deleted"
)

// ActiveStatuses are the statuses whose reminders are still delivered.
var ActiveStatuses = []TaskStatus{TaskStatusPending, TaskStatusApproved}

func (s TaskStatus) IsActive() bool {
	return s == TaskStatusPending || s == TaskStatusApproved
}

// Task is a user's to-do item with its embedded reminder schedule.
type Task struct {
	ID               string             `gorm:"primaryKey;size:64" json:"id"`
	UserID           string             `gorm:"index;size:128;not null" json:"user_id"`
	Title            string             `gorm:"not null" json:"title"`
	Description      string             `json:"description"`
	DueDate          *time.Time         `json:"due_date,omitempty"`
	Priority         Priority           `gorm:"size:16;default:medium" json:"priority"`
	Category         Category           `gorm:"size:32;default:other" json:"category"`
	Status           TaskStatus         `gorm:"index;size:16;not null" json:"status"`
	IsRecurring      bool               `gorm:"default:false" json:"is_recurring"`
	RecurringPattern *RecurrencePattern `gorm:"serializer:json;type:text" json:"recurring_pattern,omitempty"`
	Reminders        []Reminder         `gorm:"serializer:json;type:text" json:"reminders"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
	ArchivedAt       *time.Time         `gorm:"index" json:"archived_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// FindReminder returns a pointer into t.Reminders, or nil.
func (t *Task) FindReminder(id string) *Reminder {
	for i := range t.Reminders {
		if t.Reminders[i].ID == id {
			return &t.Reminders[i]
		}
	}
	return nil
}

// AllRemindersSent reports whether the task has reminders and every one of them went out.
func (t *Task) AllRemindersSent() bool {
	if len(t.Reminders) == 0 {
		return false
	}
	for _, r := range t.Reminders {
		if !r.Sent {
			return false
		}
	}
	return true
}

// NewTaskID returns a fresh task identifier.
func NewTaskID() string {
	return "tsk_" + uuid.NewString()
}
