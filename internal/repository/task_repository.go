package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"voice-planner/internal/model"
)

// TaskFilter narrows ListByUser. Empty Statuses means any status.
type TaskFilter struct {
	Statuses        []model.TaskStatus
	IncludeArchived bool
}

// TaskRepository stores tasks with their reminders embedded as a JSON column.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create assigns the task id and links reminders to it before inserting.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = model.NewTaskID()
	}
	for i := range task.Reminders {
		if task.Reminders[i].ID == "" {
			task.Reminders[i].ID = model.NewReminderID()
		}
		task.Reminders[i].TaskID = task.ID
	}
	if task.Reminders == nil {
		task.Reminders = []model.Reminder{}
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, notFound(err)
	}
	r.backfill(ctx, &task)
	return &task, nil
}

func (r *TaskRepository) ListByUser(ctx context.Context, userID string, filter TaskFilter) ([]model.Task, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if !filter.IncludeArchived {
		q = q.Where("archived_at IS NULL")
	}

	var tasks []model.Task
	if err := q.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for i := range tasks {
		r.backfill(ctx, &tasks[i])
	}
	return tasks, nil
}

// Update writes the named columns of task. updated_at is always refreshed.
func (r *TaskRepository) Update(ctx context.Context, task *model.Task, columns ...string) error {
	cols := append(append([]string{}, columns...), "updated_at")
	res := r.db.WithContext(ctx).Model(task).Select(cols).Updates(task)
	if res.Error != nil {
		return fmt.Errorf("update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReminderSent flips the reminder's sent latch inside a transaction. The
// returned bool is false when the reminder had already been marked.
func (r *TaskRepository) MarkReminderSent(ctx context.Context, taskID, reminderID string, sentAt time.Time) (*model.Task, bool, error) {
	var (
		task    model.Task
		changed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", taskID).First(&task).Error; err != nil {
			return notFound(err)
		}
		model.BackfillReminderIDs(&task)

		rem := task.FindReminder(reminderID)
		if rem == nil {
			return fmt.Errorf("reminder %s: %w", reminderID, ErrNotFound)
		}
		if rem.Sent {
			return nil
		}
		at := sentAt.UTC()
		rem.Sent = true
		rem.SentAt = &at
		changed = true
		return tx.Model(&task).Select("reminders", "updated_at").Updates(&task).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return &task, changed, nil
}

// ListCompletedBefore returns unarchived completed tasks finished before cutoff.
func (r *TaskRepository) ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("status = ? AND completed_at < ? AND archived_at IS NULL", model.TaskStatusCompleted, cutoff).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list completed tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) Archive(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&model.Task{}).Where("id IN ?", ids).Update("archived_at", at.UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("archive tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountByStatus counts a user's unarchived tasks per status.
func (r *TaskRepository) CountByStatus(ctx context.Context, userID string) (map[model.TaskStatus]int64, error) {
	var rows []struct {
		Status model.TaskStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Select("status, count(*) AS count").
		Where("user_id = ? AND archived_at IS NULL", userID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	counts := make(map[model.TaskStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *TaskRepository) HealthCheck(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// backfill persists ids for legacy reminders the first time they are read.
func (r *TaskRepository) backfill(ctx context.Context, task *model.Task) {
	if !model.BackfillReminderIDs(task) {
		return
	}
	if err := r.db.WithContext(ctx).Model(task).Select("reminders").Updates(task).Error; err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("persist backfilled reminder ids")
	}
}
