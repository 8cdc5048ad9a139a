package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-planner/internal/model"
)

func TestDueReminderScanner_IncludesOverdueReminders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, base, nil)

	longAgo := base.Add(-72 * time.Hour)
	task := h.seedTask(t, "alice", nil, longAgo, base.Add(-time.Minute), base, base.Add(time.Minute))

	due, err := h.scanner.ScanUser(ctx, "alice", base)
	require.NoError(t, err)
	require.Len(t, due, 3)
	for i, d := range due {
		assert.Equal(t, "alice", d.UserID)
		assert.Equal(t, task.ID, d.TaskID)
		assert.Equal(t, task.Reminders[i].ID, d.ReminderID)
		assert.False(t, d.DueAt.After(base))
	}
	assert.True(t, longAgo.Equal(due[0].DueAt))
}

func TestDueReminderScanner_SkipsSentAndInactive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, base, nil)

	sent := h.seedTask(t, "alice", nil, base.Add(-time.Minute), base.Add(-2*time.Minute))
	_, _, err := h.tasks.MarkReminderSent(ctx, sent.ID, sent.Reminders[0].ID, base)
	require.NoError(t, err)

	for _, status := range []model.TaskStatus{model.TaskStatusCompleted, model.TaskStatusCancelled, model.TaskStatusDeleted} {
		task := h.seedTask(t, "alice", nil, base.Add(-time.Minute))
		task.Status = status
		require.NoError(t, h.tasks.Update(ctx, task, "status"))
	}

	pending := h.seedTask(t, "alice", nil, base.Add(-time.Minute))
	pending.Status = model.TaskStatusPending
	require.NoError(t, h.tasks.Update(ctx, pending, "status"))

	due, err := h.scanner.ScanUser(ctx, "alice", base)
	require.NoError(t, err)

	var ids []string
	for _, d := range due {
		ids = append(ids, d.ReminderID)
	}
	assert.ElementsMatch(t, []string{sent.Reminders[1].ID, pending.Reminders[0].ID}, ids)
}

func TestDueReminderScanner_UserIsolation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, base, nil)

	a := h.seedTask(t, "alice", nil, base.Add(-time.Minute))
	b := h.seedTask(t, "bob", nil, base.Add(-2*time.Minute))

	due, err := h.scanner.ScanUser(ctx, "alice", base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].TaskID)

	all, err := h.scanner.Scan(ctx, base)
	require.NoError(t, err)
	require.Len(t, all, 2)
	owners := map[string]string{}
	for _, d := range all {
		owners[d.TaskID] = d.UserID
	}
	assert.Equal(t, map[string]string{a.ID: "alice", b.ID: "bob"}, owners)

	assert.False(t, h.reload(t, b.ID).Reminders[0].Sent, "scan never mutates")
}

func TestDueReminderScanner_LegacyReminders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, base, nil)
	_, err := h.users.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, h.users.SetTimezone(ctx, "alice", "Europe/Istanbul"))

	// Written straight through gorm, as older records were: no reminder id
	// and a naive local timestamp.
	legacy := model.Task{
		ID:        "tsk_legacy",
		UserID:    "alice",
		Title:     "Old habit",
		Status:    model.TaskStatusApproved,
		Reminders: []model.Reminder{{ReminderTime: "2025-03-10T14:30:00", Message: "ping"}},
	}
	require.NoError(t, h.db.Create(&legacy).Error)

	due, err := h.scanner.ScanUser(ctx, "alice", base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.True(t, strings.HasPrefix(due[0].ReminderID, "rem_"))
	assert.Equal(t, "Europe/Istanbul", due[0].Timezone)
	assert.True(t, time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC).Equal(due[0].DueAt))

	again, err := h.scanner.ScanUser(ctx, "alice", base)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, due[0].ReminderID, again[0].ReminderID, "backfilled id is stable")
}
