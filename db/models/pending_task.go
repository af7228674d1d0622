package models

// PendingTask is one entry in the durable content-task approval queue:
// generated content, form payloads, or credential handoffs waiting for the
// remote UI to approve, cancel, or edit them.
type PendingTask struct {
	TaskID         string `gorm:"column:task_id;type:text;primaryKey"`
	TaskType       string `gorm:"column:task_type;type:text;not null;index:idx_pending_tasks_type"`
	ContentPreview string `gorm:"column:content_preview;type:text"`
	ActionLabel    string `gorm:"column:action_label;type:text"`
	Status         string `gorm:"column:status;type:text;not null;index:idx_pending_tasks_status_created,priority:1"`
	Decision       string `gorm:"column:decision;type:text"`
	EditedContent  string `gorm:"column:edited_content;type:text"`
	CreatedAt      int64  `gorm:"column:created_at;not null;index:idx_pending_tasks_status_created,priority:2"`
	DecidedAt      *int64 `gorm:"column:decided_at"`
}

func (PendingTask) TableName() string { return "pending_tasks" }
