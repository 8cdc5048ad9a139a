package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-planner/internal/api"
	"voice-planner/internal/push"
	"voice-planner/internal/repository"
	"voice-planner/internal/service"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type stubScheduler struct{}

func (stubScheduler) Status() service.SchedulerStatus {
	return service.SchedulerStatus{Status: "running", Jobs: []service.JobStatus{{ID: "check_due_reminders"}}, JobCount: 1}
}

type stubRunner struct {
	err error
}

func (r stubRunner) RunPass(context.Context) (service.PassStats, error) {
	return service.PassStats{Due: 2, Delivered: 2}, r.err
}

func newServer(t *testing.T, runner api.PassRunner) http.Handler {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := repository.NewDB(repository.DriverSQLite, dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	clock := func() time.Time { return now }
	tasks := repository.NewTaskRepository(db)
	users := repository.NewUserRepository(db)
	history := repository.NewNotificationRepository(db)
	times := service.NewTimeNormalizer(clock)
	dispatcher := service.NewNotificationDispatcher(push.LogSender{Log: zerolog.Nop()}, users, history, nil, clock)
	t.Cleanup(dispatcher.Wait)
	validator := service.NewReminderValidator(times, service.NewRecurrencePlanner(service.MaxRecurringReminders))

	return api.NewServer(
		service.NewTaskService(tasks, users, validator, dispatcher, times),
		service.NewAccountService(users, users, history, dispatcher),
		stubScheduler{},
		runner,
	)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type taskJSON struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Reminders []struct {
		ID           string `json:"id"`
		ReminderTime string `json:"reminder_time"`
	} `json:"reminders"`
}

func TestHealth(t *testing.T) {
	rec := do(t, newServer(t, stubRunner{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newServer(t, stubRunner{})

	rec := do(t, srv, http.MethodPost, "/api/users/alice/tasks/batch",
		`{"tasks":[{"title":"Call dentist","due_date":"2025-03-12T18:00:00Z","reminders":[{"reminder_time":"2025-03-11T09:00:00Z"}]}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Tasks []taskJSON `json:"tasks"`
	}](t, rec).Tasks
	require.Len(t, created, 1)
	id := created[0].ID
	assert.Equal(t, "pending", created[0].Status)
	require.Len(t, created[0].Reminders, 1)
	assert.Equal(t, "2025-03-11T09:00:00Z", created[0].Reminders[0].ReminderTime)

	rec = do(t, srv, http.MethodPost, "/api/users/alice/tasks/"+id+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decode[taskJSON](t, rec).Status)

	rec = do(t, srv, http.MethodGet, "/api/users/bob/tasks/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/users/alice/tasks/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/users/alice/tasks/"+id+"/complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/users/alice/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[struct {
		Tasks []taskJSON `json:"tasks"`
	}](t, rec).Tasks)

	rec = do(t, srv, http.MethodGet, "/api/users/alice/tasks?all=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Tasks []taskJSON `json:"tasks"`
	}](t, rec).Tasks, 1)

	rec = do(t, srv, http.MethodDelete, "/api/users/alice/tasks/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCreateBatchValidation(t *testing.T) {
	srv := newServer(t, stubRunner{})

	rec := do(t, srv, http.MethodPost, "/api/users/alice/tasks/batch", `{"tasks":[{"title":"","due_date":"soon"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}](t, rec)
	assert.Equal(t, "validation failed", body.Error)
	assert.Contains(t, body.Fields, "tasks[0].title")
	assert.Contains(t, body.Fields, "tasks[0].due_date")

	rec = do(t, srv, http.MethodPost, "/api/users/alice/tasks/batch", `{"tasks":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateFromProposal(t *testing.T) {
	srv := newServer(t, stubRunner{})

	rec := do(t, srv, http.MethodPost, "/api/users/alice/proposals?auto_approve=true",
		"Sure:\n```json\n{\"message\":\"Added\",\"tasks\":[{\"title\":\"Buy milk\"}]}\n```")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[struct {
		Success bool       `json:"success"`
		Message string     `json:"message"`
		Tasks   []taskJSON `json:"tasks"`
	}](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "Added", res.Message)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "approved", res.Tasks[0].Status)
	assert.Equal(t, "alice", res.Tasks[0].UserID)

	rec = do(t, srv, http.MethodPost, "/api/users/alice/proposals", "no json here")
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decode[struct {
		Success   bool   `json:"success"`
		QueryType string `json:"query_type"`
	}](t, rec)
	assert.False(t, failed.Success)
	assert.Equal(t, service.QueryTypeParseError, failed.QueryType)
}

func TestAccountRoutes(t *testing.T) {
	srv := newServer(t, stubRunner{})

	rec := do(t, srv, http.MethodPut, "/api/users/alice/timezone", `{"timezone":"Europe/Istanbul"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPut, "/api/users/alice/timezone", `{"timezone":"Nowhere/Land"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/users/alice/devices", `{"token":"12345","platform":"telegram"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/users/alice/devices", `{"token":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodDelete, "/api/users/alice/devices/12345", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/users/alice/notifications?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[struct {
		Notifications []json.RawMessage `json:"notifications"`
	}](t, rec).Notifications)
}

func TestSchedulerRoutes(t *testing.T) {
	rec := do(t, newServer(t, stubRunner{}), http.MethodGet, "/api/scheduler/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[service.SchedulerStatus](t, rec).JobCount)

	rec = do(t, newServer(t, stubRunner{}), http.MethodPost, "/api/scheduler/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[service.PassStats](t, rec).Delivered)

	rec = do(t, newServer(t, stubRunner{err: service.ErrPassInProgress}), http.MethodPost, "/api/scheduler/run", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPreferencesAndTestNotification(t *testing.T) {
	srv := newServer(t, stubRunner{})

	rec := do(t, srv, http.MethodGet, "/api/users/alice/preferences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	type prefsBody struct {
		Preferences map[string]bool `json:"preferences"`
	}
	assert.True(t, decode[prefsBody](t, rec).Preferences["daily_summaries"])

	rec = do(t, srv, http.MethodPut, "/api/users/alice/preferences", `{"preferences":{"daily_summaries":false}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	prefs := decode[prefsBody](t, rec).Preferences
	assert.False(t, prefs["daily_summaries"])
	assert.True(t, prefs["task_reminders"])

	rec = do(t, srv, http.MethodPost, "/api/users/alice/notifications/test", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/users/alice/devices", `{"token":"12345","platform":"telegram"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/users/alice/notifications/test", `{"title":"Ping"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[struct {
		Delivered int `json:"delivered"`
		Devices   int `json:"devices"`
	}](t, rec)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Devices)
}
