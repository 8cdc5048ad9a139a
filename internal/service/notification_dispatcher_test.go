package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voice-planner/internal/model"
	"voice-planner/internal/push"
	"voice-planner/internal/service"
)

func TestDispatcher_RemovesInvalidTokens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, base, nil)
	h.addToken(t, "alice", "tok-good")
	h.addToken(t, "alice", "tok-gone")
	h.addToken(t, "alice", "tok-flaky")
	h.sender.On("Send", mock.Anything, "tok-good", mock.Anything).Return(nil)
	h.sender.On("Send", mock.Anything, "tok-gone", mock.Anything).Return(fmt.Errorf("chat not found: %w", push.ErrInvalidToken))
	h.sender.On("Send", mock.Anything, "tok-flaky", mock.Anything).Return(errors.New("timeout"))
	task := h.seedTask(t, "alice", nil, base.Add(time.Hour))

	report, err := h.dispatcher.NotifyReminder(ctx, *task, task.Reminders[0])
	require.NoError(t, err)
	assert.Equal(t, service.DispatchReport{
		"tok-good":  service.DeliverySuccess,
		"tok-gone":  service.DeliveryInvalid,
		"tok-flaky": service.DeliveryFailure,
	}, report)
	assert.Equal(t, 1, report.Delivered())
	assert.Equal(t, 1, report.Failed())

	h.dispatcher.Wait()

	tokens, err := h.users.Tokens(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-good", "tok-flaky"}, tokens)

	records, err := h.history.ListByUser(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, model.NotificationReminder, rec.Kind)
	assert.Equal(t, task.ID, rec.TaskID)
	assert.Equal(t, task.Reminders[0].ID, rec.ReminderID)
	assert.Equal(t, 1, rec.Delivered)
	assert.Equal(t, 1, rec.Failed)
	assert.Equal(t, 1, rec.Invalid)
}

func TestDispatcher_NoTokens(t *testing.T) {
	h := newHarness(t, base, nil)
	task := h.seedTask(t, "alice", nil, base.Add(time.Hour))

	report, err := h.dispatcher.NotifyReminder(context.Background(), *task, task.Reminders[0])
	assert.ErrorIs(t, err, service.ErrNoDeviceTokens)
	assert.Empty(t, report)
	h.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_ReminderPayload(t *testing.T) {
	ctx := context.Background()

	t.Run("pre-generated text used verbatim", func(t *testing.T) {
		h := newHarness(t, base, nil)
		h.addToken(t, "alice", "tok-1")
		task := h.seedTask(t, "alice", nil, base.Add(time.Hour))
		rem := task.Reminders[0]
		rem.Notification = &model.NotificationText{Title: "Dentist in an hour", Body: "Bring the insurance card"}

		h.sender.On("Send", mock.Anything, "tok-1", mock.MatchedBy(func(msg push.Message) bool {
			return msg.Title == "Dentist in an hour" && msg.Body == "Bring the insurance card" &&
				msg.Data["task_id"] == task.ID && msg.Data["reminder_id"] == rem.ID &&
				msg.Data["action"] == "open_task"
		})).Return(nil).Once()

		_, err := h.dispatcher.NotifyReminder(ctx, *task, rem)
		require.NoError(t, err)
		h.sender.AssertExpectations(t)
	})

	t.Run("derived from the task", func(t *testing.T) {
		h := newHarness(t, base, nil)
		h.addToken(t, "alice", "tok-1")
		task := h.seedTask(t, "alice", ptr(base.Add(3*time.Hour)), base.Add(time.Hour))
		task.Priority = model.PriorityUrgent

		h.sender.On("Send", mock.Anything, "tok-1", mock.MatchedBy(func(msg push.Message) bool {
			return strings.HasPrefix(msg.Title, "🚨") &&
				msg.Body == "Time to call: Call dentist (due 3 hours from now)" &&
				msg.Data["task_priority"] == "urgent"
		})).Return(nil).Once()

		_, err := h.dispatcher.NotifyReminder(ctx, *task, task.Reminders[0])
		require.NoError(t, err)
		h.sender.AssertExpectations(t)
	})
}

func TestDispatcher_Cooldown(t *testing.T) {
	ctx := context.Background()
	guard := service.NewFrequencyGuard(service.NewMemoryCooldownStore(0, time.Hour),
		map[model.NotificationKind]time.Duration{model.NotificationReminder: 5 * time.Minute})
	h := newHarness(t, base, guard)
	h.addToken(t, "alice", "tok-1")
	h.sender.On("Send", mock.Anything, "tok-1", mock.Anything).Return(nil)
	task := h.seedTask(t, "alice", nil, base.Add(time.Hour), base.Add(2*time.Hour))

	_, err := h.dispatcher.NotifyReminder(ctx, *task, task.Reminders[0])
	require.NoError(t, err)

	_, err = h.dispatcher.NotifyReminder(ctx, *task, task.Reminders[1])
	assert.ErrorIs(t, err, service.ErrSuppressed)

	_, err = h.dispatcher.NotifyApproval(ctx, *task)
	assert.NoError(t, err, "other kinds have their own window")

	other := h.seedTask(t, "alice", nil, base.Add(time.Hour))
	_, err = h.dispatcher.NotifyReminder(ctx, *other, other.Reminders[0])
	assert.NoError(t, err, "reminders for another task have their own window")

	h.clock.Set(base.Add(5 * time.Minute))
	_, err = h.dispatcher.NotifyReminder(ctx, *task, task.Reminders[1])
	assert.NoError(t, err)
}

func TestDispatcher_MutedKinds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, base, nil)
	h.addToken(t, "alice", "tok-1")
	task := h.seedTask(t, "alice", nil, base.Add(-time.Minute))

	off := false
	_, err := h.accounts.UpdatePreferences(ctx, "alice", service.PreferencesPatch{TaskReminders: &off})
	require.NoError(t, err)

	_, err = h.dispatcher.NotifyReminder(ctx, *task, task.Reminders[0])
	assert.ErrorIs(t, err, service.ErrMuted)
	assert.ErrorIs(t, err, service.ErrSuppressed)

	assert.Equal(t, service.OutcomeSkipped, h.lifecycle.Process(ctx, dueFor(t, h, "alice", base)))
	assert.False(t, h.reload(t, task.ID).Reminders[0].Sent)
	h.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)

	h.sender.On("Send", mock.Anything, "tok-1", messageOfType("task_approved")).Return(nil).Once()
	_, err = h.dispatcher.NotifyApproval(ctx, *task)
	assert.NoError(t, err, "other kinds stay on")
	h.sender.AssertExpectations(t)
}

func TestFrequencyGuard(t *testing.T) {
	guard := service.NewFrequencyGuard(service.NewMemoryCooldownStore(16, time.Hour),
		map[model.NotificationKind]time.Duration{model.NotificationReminder: 5 * time.Minute})

	assert.True(t, guard.Allow("alice", model.NotificationReminder, "tsk_1", base))
	guard.Record("alice", model.NotificationReminder, "tsk_1", base)

	assert.False(t, guard.Allow("alice", model.NotificationReminder, "tsk_1", base.Add(4*time.Minute)))
	assert.True(t, guard.Allow("alice", model.NotificationReminder, "tsk_1", base.Add(5*time.Minute)))
	assert.True(t, guard.Allow("alice", model.NotificationReminder, "tsk_2", base.Add(time.Minute)), "other tasks are not held back")
	assert.True(t, guard.Allow("bob", model.NotificationReminder, "tsk_1", base.Add(time.Minute)))
	assert.True(t, guard.Allow("alice", model.NotificationDailySummary, "", base.Add(time.Minute)))

	var none *service.FrequencyGuard
	assert.True(t, none.Allow("alice", model.NotificationReminder, "tsk_1", base))
	none.Record("alice", model.NotificationReminder, "tsk_1", base)
}

func TestResolveContent(t *testing.T) {
	now := base
	soon := now.Add(3 * time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name      string
		content   service.NotificationContent
		wantTitle string
		wantBody  string
	}{
		{
			name:      "pre-generated",
			content:   service.PreGenerated{Title: "Hi", Body: "There"},
			wantTitle: "Hi",
			wantBody:  "There",
		},
		{
			name:     "message without title",
			content:  service.Derived{Priority: model.PriorityLow, TaskTitle: "Water plants", CustomMessage: "Quick one"},
			wantBody: "Quick one: Water plants",
		},
		{
			name:     "message already names the task",
			content:  service.Derived{Priority: model.PriorityLow, TaskTitle: "Water plants", CustomMessage: "Time to water plants"},
			wantBody: "Time to water plants",
		},
		{
			name:     "no message",
			content:  service.Derived{Priority: model.PriorityHigh, TaskTitle: "Water plants", DueDate: &soon},
			wantBody: "Water plants (due 3 hours from now)",
		},
		{
			name:     "overdue",
			content:  service.Derived{Priority: model.PriorityHigh, TaskTitle: "Water plants", DueDate: &past},
			wantBody: "Water plants (overdue)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := service.ResolveContent(tt.content, now)
			if tt.wantTitle != "" {
				assert.Equal(t, tt.wantTitle, title)
			} else {
				assert.NotEmpty(t, title)
			}
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestResolveContent_TitleFollowsPriority(t *testing.T) {
	prefixes := map[model.Priority]string{
		model.PriorityUrgent: "🚨",
		model.PriorityHigh:   "🔥",
		model.PriorityMedium: "⚡",
		model.PriorityLow:    "📝",
		"unheard-of":         "⚡",
	}
	for priority, prefix := range prefixes {
		d := service.Derived{Priority: priority, TaskTitle: "Stretch", Key: "rem_1"}
		title, _ := service.ResolveContent(d, base)
		assert.True(t, strings.HasPrefix(title, prefix), "%s: %s", priority, title)

		again, _ := service.ResolveContent(d, base.Add(time.Hour))
		assert.Equal(t, title, again, "same reminder keeps its title")
	}
}
