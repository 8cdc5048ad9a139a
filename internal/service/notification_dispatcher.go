package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"voice-planner/internal/model"
	"voice-planner/internal/push"
)

const sideEffectTimeout = 10 * time.Second

// DeliveryStatus is the per-token result of one send.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryInvalid DeliveryStatus = "invalid"
	DeliveryFailure DeliveryStatus = "failure"
)

// DispatchReport maps each token to its delivery status.
type DispatchReport map[string]DeliveryStatus

func (r DispatchReport) count(status DeliveryStatus) int {
	n := 0
	for _, s := range r {
		if s == status {
			n++
		}
	}
	return n
}

func (r DispatchReport) Delivered() int { return r.count(DeliverySuccess) }
func (r DispatchReport) Failed() int    { return r.count(DeliveryFailure) }

// InvalidTokens lists tokens the transport rejected permanently.
func (r DispatchReport) InvalidTokens() []string {
	var out []string
	for token, s := range r {
		if s == DeliveryInvalid {
			out = append(out, token)
		}
	}
	return out
}

// NotificationDispatcher sends notifications to every registered token of a
// user, prunes permanently invalid tokens and records history. Cleanup and
// history writes run in the background; Wait blocks until they finish.
type NotificationDispatcher struct {
	sender  push.Sender
	tokens  TokenRegistry
	history HistoryStore
	guard   *FrequencyGuard
	now     func() time.Time

	wg sync.WaitGroup
}

func NewNotificationDispatcher(sender push.Sender, tokens TokenRegistry, history HistoryStore, guard *FrequencyGuard, now func() time.Time) *NotificationDispatcher {
	if now == nil {
		now = time.Now
	}
	return &NotificationDispatcher{sender: sender, tokens: tokens, history: history, guard: guard, now: now}
}

// Send delivers msg to each token individually.
func (d *NotificationDispatcher) Send(ctx context.Context, tokens []string, msg push.Message) DispatchReport {
	report := make(DispatchReport, len(tokens))
	for _, token := range tokens {
		err := d.sender.Send(ctx, token, msg)
		switch {
		case err == nil:
			report[token] = DeliverySuccess
		case errors.Is(err, push.ErrInvalidToken):
			report[token] = DeliveryInvalid
		default:
			report[token] = DeliveryFailure
			log.Warn().Err(err).Str("token", token).Msg("push send failed")
		}
	}
	return report
}

// dispatchRef ties a notification to the task and reminder it is about.
type dispatchRef struct {
	taskID     string
	reminderID string
}

// dispatch checks the cooldown and the user's preferences, resolves content
// and sends it to all of the user's tokens. It returns ErrSuppressed inside
// the cooldown window, ErrMuted when the user switched the kind off and
// ErrNoDeviceTokens when the user has nowhere to receive it.
func (d *NotificationDispatcher) dispatch(ctx context.Context, userID string, kind model.NotificationKind, content NotificationContent, data map[string]string, ref dispatchRef) (DispatchReport, error) {
	now := d.now()
	if !d.guard.Allow(userID, kind, ref.taskID, now) {
		return nil, ErrSuppressed
	}

	if !d.enabled(ctx, userID, kind) {
		return nil, ErrMuted
	}

	tokens, err := d.tokens.Tokens(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	if len(tokens) == 0 {
		return DispatchReport{}, ErrNoDeviceTokens
	}

	title, body := ResolveContent(content, now)
	report := d.Send(ctx, tokens, push.Message{Title: title, Body: body, Data: data})

	if invalid := report.InvalidTokens(); len(invalid) > 0 {
		d.background(ctx, func(ctx context.Context) {
			if err := d.tokens.RemoveTokens(ctx, userID, invalid); err != nil {
				log.Error().Err(err).Str("user_id", userID).Msg("remove invalid tokens")
				return
			}
			log.Info().Str("user_id", userID).Int("count", len(invalid)).Msg("removed invalid tokens")
		})
	}

	rec := &model.NotificationRecord{
		UserID:     userID,
		Kind:       kind,
		Title:      title,
		Body:       body,
		TaskID:     ref.taskID,
		ReminderID: ref.reminderID,
		Delivered:  report.Delivered(),
		Failed:     report.Failed(),
		Invalid:    len(report.InvalidTokens()),
		CreatedAt:  now.UTC(),
	}
	d.background(ctx, func(ctx context.Context) {
		if err := d.history.Append(ctx, rec); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("append notification history")
		}
	})

	if report.Delivered() > 0 {
		d.guard.Record(userID, kind, ref.taskID, now)
	}
	return report, nil
}

// enabled consults the user's preferences when the registry keeps them. A
// failed lookup lets the notification through.
func (d *NotificationDispatcher) enabled(ctx context.Context, userID string, kind model.NotificationKind) bool {
	store, ok := d.tokens.(PreferenceStore)
	if !ok {
		return true
	}
	prefs, err := store.Preferences(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("load notification preferences")
		return true
	}
	return prefs.Allows(kind)
}

// NotifyReminder sends the reminder using its own text when it has one.
func (d *NotificationDispatcher) NotifyReminder(ctx context.Context, task model.Task, reminder model.Reminder) (DispatchReport, error) {
	var content NotificationContent
	if n := reminder.Notification; n != nil && n.Title != "" && n.Body != "" {
		content = PreGenerated{Title: n.Title, Body: n.Body}
	} else {
		content = Derived{
			Priority:      task.Priority,
			TaskTitle:     task.Title,
			CustomMessage: reminder.Message,
			DueDate:       task.DueDate,
			Key:           reminder.ID,
		}
	}
	data := map[string]string{
		"type":          "task_reminder",
		"task_id":       task.ID,
		"reminder_id":   reminder.ID,
		"task_title":    task.Title,
		"task_priority": string(task.Priority),
		"reminder_time": reminder.ReminderTime,
		"action":        "open_task",
	}
	return d.dispatch(ctx, task.UserID, model.NotificationReminder, content, data,
		dispatchRef{taskID: task.ID, reminderID: reminder.ID})
}

func (d *NotificationDispatcher) NotifyApproval(ctx context.Context, task model.Task) (DispatchReport, error) {
	content := PreGenerated{
		Title: "✅ Task Approved",
		Body:  fmt.Sprintf("%q is approved. %d reminder(s) scheduled.", task.Title, len(task.Reminders)),
	}
	data := map[string]string{"type": "task_approved", "task_id": task.ID, "action": "open_task"}
	return d.dispatch(ctx, task.UserID, model.NotificationApproval, content, data, dispatchRef{taskID: task.ID})
}

func (d *NotificationDispatcher) NotifyCompletion(ctx context.Context, task model.Task) (DispatchReport, error) {
	content := PreGenerated{
		Title: "🎉 Task Completed",
		Body:  fmt.Sprintf("All reminders for %q are done. Nice work!", task.Title),
	}
	data := map[string]string{"type": "task_completed", "task_id": task.ID, "action": "open_task"}
	return d.dispatch(ctx, task.UserID, model.NotificationCompletion, content, data, dispatchRef{taskID: task.ID})
}

func (d *NotificationDispatcher) NotifyDailySummary(ctx context.Context, userID, body string) (DispatchReport, error) {
	content := PreGenerated{Title: "📊 Daily Summary", Body: body}
	data := map[string]string{"type": "daily_summary", "action": "open_app"}
	return d.dispatch(ctx, userID, model.NotificationDailySummary, content, data, dispatchRef{})
}

// NotifyTest sends a test push so a user can check their devices.
func (d *NotificationDispatcher) NotifyTest(ctx context.Context, userID, title, body string) (DispatchReport, error) {
	if strings.TrimSpace(title) == "" {
		title = "Test Notification"
	}
	if strings.TrimSpace(body) == "" {
		body = "This is a test notification from Voice Planner"
	}
	data := map[string]string{
		"type":      "test",
		"action":    "open_app",
		"timestamp": strconv.FormatInt(d.now().Unix(), 10),
	}
	return d.dispatch(ctx, userID, model.NotificationTest, PreGenerated{Title: title, Body: body}, data, dispatchRef{})
}

// Wait blocks until background cleanup and history writes finish.
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}

func (d *NotificationDispatcher) background(ctx context.Context, fn func(context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}
