package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quailyquaily/screenbridge/db/models"
)

// TaskQueue is the durable content-task approval queue. Unlike the
// action-permission queue it survives broker restarts: generated content
// waiting for review must not evaporate because the relay bounced.
type TaskQueue struct {
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time

	gdb *gorm.DB
	log *slog.Logger
}

func NewTaskQueue(gdb *gorm.DB, log *slog.Logger) (*TaskQueue, error) {
	if gdb == nil {
		return nil, fmt.Errorf("nil gorm db")
	}
	return &TaskQueue{gdb: gdb, log: log}, nil
}

// Register stores a new pending task and returns its record.
func (q *TaskQueue) Register(ctx context.Context, taskType, contentPreview, actionLabel string) (TaskRecord, error) {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return TaskRecord{}, fmt.Errorf("missing task_type")
	}
	if strings.TrimSpace(actionLabel) == "" {
		actionLabel = "Approve"
	}

	row := models.PendingTask{
		TaskID:         "task-" + uuid.NewString()[:8],
		TaskType:       taskType,
		ContentPreview: contentPreview,
		ActionLabel:    strings.TrimSpace(actionLabel),
		Status:         string(StatusPending),
		CreatedAt:      q.clock()().Unix(),
	}
	if err := q.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		return TaskRecord{}, err
	}
	if q.log != nil {
		q.log.Info("task_registered", "task_id", row.TaskID, "task_type", row.TaskType)
	}
	return recordFromRow(row), nil
}

// Next returns the most recently registered pending task, the entry the
// remote UI should overlay first. ok is false when the queue is empty.
func (q *TaskQueue) Next(ctx context.Context) (TaskRecord, bool, error) {
	var row models.PendingTask
	err := q.gdb.WithContext(ctx).
		Where("status = ?", string(StatusPending)).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TaskRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, false, err
	}
	return recordFromRow(row), true, nil
}

// Pending lists undecided tasks, oldest first.
func (q *TaskQueue) Pending(ctx context.Context) ([]TaskRecord, error) {
	var rows []models.PendingTask
	err := q.gdb.WithContext(ctx).
		Where("status = ?", string(StatusPending)).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]TaskRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, recordFromRow(row))
	}
	return out, nil
}

// Decide records the remote UI's decision. The pending → decided transition
// happens at most once: the guarded UPDATE matches only pending rows, so a
// second decision for the same id fails with ErrAlreadyDecided.
func (q *TaskQueue) Decide(ctx context.Context, taskID string, act TaskAction, editedContent string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("missing task_id")
	}
	if !act.Valid() {
		return fmt.Errorf("invalid action: %q", act)
	}

	now := q.clock()().Unix()
	res := q.gdb.WithContext(ctx).
		Model(&models.PendingTask{}).
		Where("task_id = ? AND status = ?", taskID, string(StatusPending)).
		Updates(map[string]any{
			"status":         string(StatusDecided),
			"decision":       string(act),
			"edited_content": editedContent,
			"decided_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish an unknown id from a replayed decision.
		var count int64
		if err := q.gdb.WithContext(ctx).
			Model(&models.PendingTask{}).
			Where("task_id = ?", taskID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrAlreadyDecided
	}

	if q.log != nil {
		q.log.Info("task_decided", "task_id", taskID, "action", string(act))
	}
	return nil
}

// Get looks up one task including its decision. ok is false for unknown ids.
func (q *TaskQueue) Get(ctx context.Context, taskID string) (TaskRecord, bool, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return TaskRecord{}, false, nil
	}
	var row models.PendingTask
	err := q.gdb.WithContext(ctx).Where("task_id = ?", taskID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TaskRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, false, err
	}
	return recordFromRow(row), true, nil
}

// Counts returns (pending, total) row counts.
func (q *TaskQueue) Counts(ctx context.Context) (int64, int64, error) {
	var pending, total int64
	if err := q.gdb.WithContext(ctx).
		Model(&models.PendingTask{}).
		Where("status = ?", string(StatusPending)).
		Count(&pending).Error; err != nil {
		return 0, 0, err
	}
	if err := q.gdb.WithContext(ctx).
		Model(&models.PendingTask{}).
		Count(&total).Error; err != nil {
		return 0, 0, err
	}
	return pending, total, nil
}

func (q *TaskQueue) clock() func() time.Time {
	if q.Now == nil {
		return time.Now
	}
	return q.Now
}

func recordFromRow(row models.PendingTask) TaskRecord {
	rec := TaskRecord{
		TaskID:         row.TaskID,
		TaskType:       row.TaskType,
		ContentPreview: row.ContentPreview,
		ActionLabel:    row.ActionLabel,
		Status:         Status(row.Status),
		Decision:       TaskAction(row.Decision),
		EditedContent:  row.EditedContent,
		CreatedAt:      time.Unix(row.CreatedAt, 0).UTC(),
	}
	if row.DecidedAt != nil {
		t := time.Unix(*row.DecidedAt, 0).UTC()
		rec.DecidedAt = &t
	}
	return rec
}
