package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voice-planner/internal/model"
	"voice-planner/internal/service"
)

func dueFor(t *testing.T, h *harness, userID string, now time.Time) service.DueReminder {
	t.Helper()
	due, err := h.scanner.ScanUser(context.Background(), userID, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	return due[0]
}

func TestLifecycle_StaleReminderRetiredWithoutPush(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	h := newHarness(t, now, nil)
	h.addToken(t, "alice", "tok-1")
	task := h.seedTask(t, "alice", ptr(now.Add(48*time.Hour)), time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC))

	outcome := h.lifecycle.Process(context.Background(), dueFor(t, h, "alice", now))

	assert.Equal(t, service.OutcomeStale, outcome)
	h.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	got := h.reload(t, task.ID)
	assert.True(t, got.Reminders[0].Sent)
	require.NotNil(t, got.Reminders[0].SentAt)
	assert.True(t, now.Equal(*got.Reminders[0].SentAt))
	assert.Equal(t, model.TaskStatusApproved, got.Status)
}

func TestLifecycle_DeliveredAndAutoCompleted(t *testing.T) {
	h := newHarness(t, base, nil)
	h.addToken(t, "alice", "tok-1")
	h.sender.On("Send", mock.Anything, "tok-1", mock.Anything).Return(nil)
	task := h.seedTask(t, "alice", nil, base.Add(-10*time.Minute))

	outcome := h.lifecycle.Process(context.Background(), dueFor(t, h, "alice", base))

	assert.Equal(t, service.OutcomeDelivered, outcome)
	got := h.reload(t, task.ID)
	assert.True(t, got.Reminders[0].Sent)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	h.sender.AssertCalled(t, "Send", mock.Anything, "tok-1", messageOfType("task_reminder"))
	h.sender.AssertCalled(t, "Send", mock.Anything, "tok-1", messageOfType("task_completed"))
}

func TestLifecycle_NoAutoCompleteWithDueDate(t *testing.T) {
	h := newHarness(t, base, nil)
	h.addToken(t, "alice", "tok-1")
	h.sender.On("Send", mock.Anything, "tok-1", mock.Anything).Return(nil)
	task := h.seedTask(t, "alice", ptr(base.Add(24*time.Hour)), base.Add(-10*time.Minute))

	outcome := h.lifecycle.Process(context.Background(), dueFor(t, h, "alice", base))

	assert.Equal(t, service.OutcomeDelivered, outcome)
	got := h.reload(t, task.ID)
	assert.True(t, got.Reminders[0].Sent)
	assert.Equal(t, model.TaskStatusApproved, got.Status)
	assert.Nil(t, got.CompletedAt)
	h.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestLifecycle_AutoCompletesOnlyAfterLastReminder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, base, nil)
	h.addToken(t, "alice", "tok-1")
	h.sender.On("Send", mock.Anything, "tok-1", mock.Anything).Return(nil)
	task := h.seedTask(t, "alice", nil, base.Add(-20*time.Minute), base.Add(30*time.Minute))

	assert.Equal(t, service.OutcomeDelivered, h.lifecycle.Process(ctx, dueFor(t, h, "alice", base)))
	assert.Equal(t, model.TaskStatusApproved, h.reload(t, task.ID).Status)

	later := base.Add(31 * time.Minute)
	h.clock.Set(later)
	assert.Equal(t, service.OutcomeDelivered, h.lifecycle.Process(ctx, dueFor(t, h, "alice", later)))
	assert.Equal(t, model.TaskStatusCompleted, h.reload(t, task.ID).Status)
}

func TestLifecycle_StaleLastReminderAutoCompletes(t *testing.T) {
	h := newHarness(t, base, nil)
	task := h.seedTask(t, "alice", nil, base.Add(-3*time.Hour))

	outcome := h.lifecycle.Process(context.Background(), dueFor(t, h, "alice", base))

	assert.Equal(t, service.OutcomeStale, outcome)
	assert.Equal(t, model.TaskStatusCompleted, h.reload(t, task.ID).Status)
}

func TestLifecycle_UndeliveredStaysUnsent(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
		want  service.Outcome
	}{
		{
			name:  "no device tokens",
			setup: func(t *testing.T, h *harness) {},
			want:  service.OutcomeFailed,
		},
		{
			name: "transport error",
			setup: func(t *testing.T, h *harness) {
				h.addToken(t, "alice", "tok-1")
				h.sender.On("Send", mock.Anything, "tok-1", mock.Anything).Return(errors.New("503 from gateway"))
			},
			want: service.OutcomeFailed,
		},
		{
			name: "held back by cooldown",
			setup: func(t *testing.T, h *harness) {
				h.addToken(t, "alice", "tok-1")
			},
			want: service.OutcomeSkipped,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := service.NewFrequencyGuard(service.NewMemoryCooldownStore(0, time.Hour),
				map[model.NotificationKind]time.Duration{model.NotificationReminder: 5 * time.Minute})
			h := newHarness(t, base, guard)
			tt.setup(t, h)
			task := h.seedTask(t, "alice", nil, base.Add(-10*time.Minute))
			if tt.want == service.OutcomeSkipped {
				guard.Record("alice", model.NotificationReminder, task.ID, base.Add(-time.Minute))
			}

			assert.Equal(t, tt.want, h.lifecycle.Process(context.Background(), dueFor(t, h, "alice", base)))
			got := h.reload(t, task.ID)
			assert.False(t, got.Reminders[0].Sent)
			assert.Equal(t, model.TaskStatusApproved, got.Status)
		})
	}
}

func TestLifecycle_SkipsWhenTaskChangedSinceScan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, base, nil)
	task := h.seedTask(t, "alice", nil, base.Add(-10*time.Minute))
	due := dueFor(t, h, "alice", base)

	task.Status = model.TaskStatusCancelled
	require.NoError(t, h.tasks.Update(ctx, task, "status"))

	assert.Equal(t, service.OutcomeSkipped, h.lifecycle.Process(ctx, due))
	h.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestLifecycle_AlreadySentIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, base, nil)
	h.addToken(t, "alice", "tok-1")
	task := h.seedTask(t, "alice", ptr(base.Add(time.Hour)), base.Add(-10*time.Minute))
	due := dueFor(t, h, "alice", base)

	_, changed, err := h.tasks.MarkReminderSent(ctx, task.ID, task.Reminders[0].ID, base)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, service.OutcomeSkipped, h.lifecycle.Process(ctx, due))
	h.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}
