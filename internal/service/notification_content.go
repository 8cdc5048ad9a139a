package service

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"voice-planner/internal/model"
)

// NotificationContent is either PreGenerated or Derived.
type NotificationContent interface {
	isNotificationContent()
}

// PreGenerated is text supplied with the reminder, used verbatim.
type PreGenerated struct {
	Title string
	Body  string
}

// Derived is text built from the task at send time.
type Derived struct {
	Priority      model.Priority
	TaskTitle     string
	CustomMessage string
	DueDate       *time.Time
	// Key picks the title variant so a reminder keeps the same one on retry.
	Key string
}

func (PreGenerated) isNotificationContent() {}
func (Derived) isNotificationContent()      {}

var priorityTitles = map[model.Priority][]string{
	model.PriorityUrgent: {"🚨 Urgent: Action Needed", "🚨 Don't Let This Slip", "🚨 Time-Critical Reminder"},
	model.PriorityHigh:   {"🔥 Important Reminder", "🔥 Heads Up", "🔥 High Priority Task"},
	model.PriorityMedium: {"⚡ Task Reminder", "⚡ Quick Nudge", "⚡ Coming Up"},
	model.PriorityLow:    {"📝 Gentle Reminder", "📝 When You Have a Moment", "📝 Friendly Nudge"},
}

// ResolveContent renders content into a push title and body.
func ResolveContent(c NotificationContent, now time.Time) (string, string) {
	switch v := c.(type) {
	case PreGenerated:
		return v.Title, v.Body
	case Derived:
		return derivedTitle(v), derivedBody(v, now)
	default:
		return "📋 Task Reminder", ""
	}
}

func derivedTitle(d Derived) string {
	titles, ok := priorityTitles[d.Priority]
	if !ok {
		titles = priorityTitles[model.PriorityMedium]
	}
	key := d.Key
	if key == "" {
		key = d.TaskTitle
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return titles[h.Sum32()%uint32(len(titles))]
}

func derivedBody(d Derived, now time.Time) string {
	title := strings.TrimSpace(d.TaskTitle)
	msg := strings.TrimSpace(d.CustomMessage)

	var body string
	switch {
	case msg == "":
		body = title
	case title == "" || strings.Contains(strings.ToLower(msg), strings.ToLower(title)):
		body = msg
	default:
		body = fmt.Sprintf("%s: %s", msg, title)
	}

	if d.DueDate != nil {
		if d.DueDate.After(now) {
			body += fmt.Sprintf(" (due %s)", humanize.RelTime(*d.DueDate, now, "ago", "from now"))
		} else {
			body += " (overdue)"
		}
	}
	return body
}
