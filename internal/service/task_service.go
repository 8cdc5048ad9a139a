package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"voice-planner/internal/model"
	"voice-planner/internal/repository"
)

// TaskService wraps task-related business logic. Every operation is scoped
// to the calling user; tasks of other users look like missing tasks.
type TaskService struct {
	tasks      TaskStore
	users      UserStore
	validator  *ReminderValidator
	dispatcher *NotificationDispatcher
	times      *TimeNormalizer
}

func NewTaskService(tasks TaskStore, users UserStore, validator *ReminderValidator, dispatcher *NotificationDispatcher, times *TimeNormalizer) *TaskService {
	return &TaskService{tasks: tasks, users: users, validator: validator, dispatcher: dispatcher, times: times}
}

// CreateTasksBatch validates drafts and persists them as PENDING, or APPROVED
// when autoApprove is set.
func (s *TaskService) CreateTasksBatch(ctx context.Context, userID string, drafts []TaskDraft, autoApprove bool) ([]model.Task, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(userID) == "" {
		verr.Add("user_id", "is required")
	}
	if len(drafts) == 0 {
		verr.Add("tasks", "at least one task is required")
	}
	tz := s.timezone(ctx, userID)
	for i, d := range drafts {
		if strings.TrimSpace(d.Title) == "" {
			verr.Add(fmt.Sprintf("tasks[%d].title", i), "is required")
		}
		if strings.TrimSpace(d.DueDate) != "" {
			if _, err := s.times.Resolve(d.DueDate, tz); err != nil {
				verr.Add(fmt.Sprintf("tasks[%d].due_date", i), "is not a valid timestamp")
			}
		}
		for j, r := range d.Reminders {
			if _, err := s.times.Resolve(r.ReminderTime, tz); err != nil {
				verr.Add(fmt.Sprintf("tasks[%d].reminders[%d].reminder_time", i, j), "is not a valid timestamp")
			}
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	res := s.validator.Validate(Proposal{Tasks: drafts}, tz)
	for _, sg := range res.Suggestions {
		log.Info().Str("user_id", userID).Str("suggestion", sg.Title).Msg(sg.Description)
	}
	return s.persist(ctx, userID, res.Tasks, autoApprove)
}

// CreateFromProposal parses raw assistant output, validates it and persists
// the surviving tasks. A parse failure is returned as a result, not an error.
func (s *TaskService) CreateFromProposal(ctx context.Context, userID string, raw []byte, autoApprove bool) (ProposalResult, error) {
	if strings.TrimSpace(userID) == "" {
		return ProposalResult{}, NewValidationError("user_id", "is required")
	}
	res := s.validator.ValidatePayload(raw, s.timezone(ctx, userID))
	if !res.Success || len(res.Tasks) == 0 {
		return res, nil
	}
	saved, err := s.persist(ctx, userID, res.Tasks, autoApprove)
	if err != nil {
		return ProposalResult{}, err
	}
	res.Tasks = saved
	return res, nil
}

func (s *TaskService) persist(ctx context.Context, userID string, tasks []model.Task, autoApprove bool) ([]model.Task, error) {
	if _, err := s.users.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}
	status := model.TaskStatusPending
	if autoApprove {
		status = model.TaskStatusApproved
	}
	saved := make([]model.Task, 0, len(tasks))
	for _, task := range tasks {
		task.UserID = userID
		task.Status = status
		if err := s.tasks.Create(ctx, &task); err != nil {
			return saved, err
		}
		log.Info().
			Str("user_id", userID).
			Str("task_id", task.ID).
			Int("reminders", len(task.Reminders)).
			Str("status", string(task.Status)).
			Msg("task created")
		saved = append(saved, task)
	}
	return saved, nil
}

// ApproveTask moves a pending task to approved and notifies the user.
// Approving an approved task is a no-op.
func (s *TaskService) ApproveTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	switch task.Status {
	case model.TaskStatusApproved:
		return task, nil
	case model.TaskStatusPending:
	default:
		return nil, fmt.Errorf("approve %s task: %w", task.Status, ErrInvalidTransition)
	}

	task.Status = model.TaskStatusApproved
	if err := s.tasks.Update(ctx, task, "status"); err != nil {
		return nil, err
	}
	if _, err := s.dispatcher.NotifyApproval(ctx, *task); err != nil &&
		!errors.Is(err, ErrNoDeviceTokens) && !errors.Is(err, ErrSuppressed) {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("approval notification")
	}
	return task, nil
}

// CompleteTask marks an active task as done.
func (s *TaskService) CompleteTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if !task.Status.IsActive() {
		return nil, fmt.Errorf("complete %s task: %w", task.Status, ErrInvalidTransition)
	}
	now := s.times.Now()
	task.Status = model.TaskStatusCompleted
	task.CompletedAt = &now
	if err := s.tasks.Update(ctx, task, "status", "completed_at"); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *TaskService) CancelTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if !task.Status.IsActive() {
		return nil, fmt.Errorf("cancel %s task: %w", task.Status, ErrInvalidTransition)
	}
	task.Status = model.TaskStatusCancelled
	if err := s.tasks.Update(ctx, task, "status"); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask soft-deletes the task; its reminders are kept for history.
func (s *TaskService) DeleteTask(ctx context.Context, userID, taskID string) error {
	task, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if task.Status == model.TaskStatusDeleted {
		return nil
	}
	task.Status = model.TaskStatusDeleted
	return s.tasks.Update(ctx, task, "status")
}

func (s *TaskService) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrNotFound
	}
	return task, nil
}

// ListTasks returns pending, approved and completed tasks, or every task
// including cancelled, deleted and archived ones when includeInactive is set.
func (s *TaskService) ListTasks(ctx context.Context, userID string, includeInactive bool) ([]model.Task, error) {
	filter := repository.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskStatusPending, model.TaskStatusApproved, model.TaskStatusCompleted},
	}
	if includeInactive {
		filter = repository.TaskFilter{IncludeArchived: true}
	}
	return s.tasks.ListByUser(ctx, userID, filter)
}

func (s *TaskService) timezone(ctx context.Context, userID string) string {
	tz, err := s.users.Timezone(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("timezone lookup failed, using UTC")
		return repository.DefaultTimezone
	}
	return tz
}
