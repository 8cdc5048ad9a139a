package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"voice-planner/internal/service"
)

const maxBodyBytes = 1 << 20

// SchedulerStatuser reports the background scheduler state.
type SchedulerStatuser interface {
	Status() service.SchedulerStatus
}

// PassRunner triggers a reminder pass on demand.
type PassRunner interface {
	RunPass(ctx context.Context) (service.PassStats, error)
}

type Server struct {
	tasks     *service.TaskService
	accounts  *service.AccountService
	scheduler SchedulerStatuser
	engine    PassRunner
}

func NewServer(tasks *service.TaskService, accounts *service.AccountService, scheduler SchedulerStatuser, engine PassRunner) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)

	s := &Server{tasks: tasks, accounts: accounts, scheduler: scheduler, engine: engine}

	r.Get("/health", s.health)

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Post("/tasks/batch", s.createBatch)
		r.Post("/proposals", s.createFromProposal)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{taskID}", s.getTask)
		r.Post("/tasks/{taskID}/approve", s.approveTask)
		r.Post("/tasks/{taskID}/complete", s.completeTask)
		r.Post("/tasks/{taskID}/cancel", s.cancelTask)
		r.Delete("/tasks/{taskID}", s.deleteTask)
		r.Put("/timezone", s.setTimezone)
		r.Post("/devices", s.registerDevice)
		r.Delete("/devices/{token}", s.unregisterDevice)
		r.Get("/notifications", s.listNotifications)
		r.Post("/notifications/test", s.sendTestNotification)
		r.Get("/preferences", s.getPreferences)
		r.Put("/preferences", s.updatePreferences)
	})

	r.Get("/api/scheduler/status", s.schedulerStatus)
	r.Post("/api/scheduler/run", s.runPass)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type batchReq struct {
	Tasks       []service.TaskDraft `json:"tasks"`
	AutoApprove bool                `json:"auto_approve"`
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if !decode(w, r, &req) {
		return
	}
	tasks, err := s.tasks.CreateTasksBatch(r.Context(), chi.URLParam(r, "userID"), req.Tasks, req.AutoApprove)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tasks": tasks})
}

// createFromProposal takes the assistant's raw output as the request body.
func (s *Server) createFromProposal(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	autoApprove, _ := strconv.ParseBool(r.URL.Query().Get("auto_approve"))
	res, err := s.tasks.CreateFromProposal(r.Context(), chi.URLParam(r, "userID"), raw, autoApprove)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	tasks, err := s.tasks.ListTasks(r.Context(), chi.URLParam(r, "userID"), all)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.GetTask(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) approveTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.ApproveTask(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.CompleteTask(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.CancelTask(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.DeleteTask(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "taskID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type timezoneReq struct {
	Timezone string `json:"timezone"`
}

func (s *Server) setTimezone(w http.ResponseWriter, r *http.Request) {
	var req timezoneReq
	if !decode(w, r, &req) {
		return
	}
	if err := s.accounts.SetTimezone(r.Context(), chi.URLParam(r, "userID"), req.Timezone); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type deviceReq struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceReq
	if !decode(w, r, &req) {
		return
	}
	if err := s.accounts.RegisterDevice(r.Context(), chi.URLParam(r, "userID"), req.Token, req.Platform); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unregisterDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.UnregisterDevice(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "token")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.accounts.Notifications(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": records})
}

type testNotificationReq struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// sendTestNotification accepts an empty body and then uses the default text.
func (s *Server) sendTestNotification(w http.ResponseWriter, r *http.Request) {
	var req testNotificationReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	report, err := s.accounts.SendTestNotification(r.Context(), chi.URLParam(r, "userID"), req.Title, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"delivered": report.Delivered(),
		"devices":   len(report),
		"results":   report,
	})
}

func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.accounts.Preferences(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Preferences service.PreferencesPatch `json:"preferences"`
	}
	if !decode(w, r, &req) {
		return
	}
	prefs, err := s.accounts.UpdatePreferences(r.Context(), chi.URLParam(r, "userID"), req.Preferences)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) runPass(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.RunPass(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	case errors.Is(err, service.ErrNoDeviceTokens):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrPassInProgress),
		errors.Is(err, service.ErrSuppressed):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request through zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}
