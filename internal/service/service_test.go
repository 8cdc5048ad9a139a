package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"voice-planner/internal/model"
	"voice-planner/internal/push"
	"voice-planner/internal/repository"
	"voice-planner/internal/service"
)

// base is a Monday.
var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

var repositoryAll = repository.TaskFilter{IncludeArchived: true}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, token string, msg push.Message) error {
	return m.Called(ctx, token, msg).Error(0)
}

// messageOfType matches push messages by their data "type" key.
func messageOfType(typ string) interface{} {
	return mock.MatchedBy(func(msg push.Message) bool { return msg.Data["type"] == typ })
}

type harness struct {
	db      *gorm.DB
	clock   *testClock
	times   *service.TimeNormalizer
	tasks   *repository.TaskRepository
	users   *repository.UserRepository
	history *repository.NotificationRepository
	sender  *mockSender

	dispatcher *service.NotificationDispatcher
	validator  *service.ReminderValidator
	scanner    *service.DueReminderScanner
	lifecycle  *service.ReminderLifecycleManager
	engine     *service.ReminderEngine
	taskSvc    *service.TaskService
	summaries  *service.SummaryService
	accounts   *service.AccountService
}

func newHarness(t *testing.T, now time.Time, guard *service.FrequencyGuard) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := repository.NewDB(repository.DriverSQLite, dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	h := &harness{
		db:      db,
		clock:   &testClock{now: now},
		tasks:   repository.NewTaskRepository(db),
		users:   repository.NewUserRepository(db),
		history: repository.NewNotificationRepository(db),
		sender:  &mockSender{},
	}
	h.times = service.NewTimeNormalizer(h.clock.Now)
	h.dispatcher = service.NewNotificationDispatcher(h.sender, h.users, h.history, guard, h.clock.Now)
	h.validator = service.NewReminderValidator(h.times, service.NewRecurrencePlanner(service.MaxRecurringReminders))
	h.scanner = service.NewDueReminderScanner(h.tasks, h.users, h.times)
	h.lifecycle = service.NewReminderLifecycleManager(h.tasks, h.dispatcher, h.times, service.DefaultStalenessThreshold)
	h.engine = service.NewReminderEngine(h.scanner, h.lifecycle, h.times, 4)
	h.taskSvc = service.NewTaskService(h.tasks, h.users, h.validator, h.dispatcher, h.times)
	h.summaries = service.NewSummaryService(h.tasks, h.users, h.dispatcher, h.times)
	h.accounts = service.NewAccountService(h.users, h.users, h.history, h.dispatcher)
	t.Cleanup(h.dispatcher.Wait)
	return h
}

// seedTask stores an approved task for userID with one reminder per instant.
func (h *harness) seedTask(t *testing.T, userID string, due *time.Time, reminders ...time.Time) *model.Task {
	t.Helper()
	ctx := context.Background()
	_, err := h.users.EnsureUser(ctx, userID)
	require.NoError(t, err)

	task := &model.Task{
		UserID:   userID,
		Title:    "Call dentist",
		Priority: model.PriorityMedium,
		Category: model.CategoryHealth,
		Status:   model.TaskStatusApproved,
		DueDate:  due,
	}
	for _, at := range reminders {
		task.Reminders = append(task.Reminders, model.Reminder{
			ReminderTime: at.UTC().Format(time.RFC3339),
			Message:      "Time to call",
			Type:         model.ReminderTypePreparation,
		})
	}
	require.NoError(t, h.tasks.Create(ctx, task))
	return task
}

func (h *harness) addToken(t *testing.T, userID, token string) {
	t.Helper()
	require.NoError(t, h.users.AddToken(context.Background(), userID, token, "telegram"))
}

func (h *harness) reload(t *testing.T, id string) *model.Task {
	t.Helper()
	task, err := h.tasks.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

func ptr(t time.Time) *time.Time {
	return &t
}
