package bridge

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// PermissionDecision is the vocabulary of the action-permission queue.
// "pending" and "not_found" are poll results, not operator decisions.
type PermissionDecision string

const (
	DecisionPending  PermissionDecision = "pending"
	DecisionNotFound PermissionDecision = "not_found"
	DecisionAllow    PermissionDecision = "allow"
	DecisionSkip     PermissionDecision = "skip"
	DecisionStop     PermissionDecision = "stop"
	DecisionEdit     PermissionDecision = "edit"
	DecisionAllowAll PermissionDecision = "allow_all"
)

// IsOperatorDecision reports whether d is something the remote UI may post.
func (d PermissionDecision) IsOperatorDecision() bool {
	switch d {
	case DecisionAllow, DecisionSkip, DecisionStop, DecisionEdit, DecisionAllowAll:
		return true
	}
	return false
}

// TaskAction is the vocabulary of the content-task queue.
type TaskAction string

const (
	TaskApprove TaskAction = "approve"
	TaskCancel  TaskAction = "cancel"
	TaskEdit    TaskAction = "edit"
)

func (a TaskAction) Valid() bool {
	switch a {
	case TaskApprove, TaskCancel, TaskEdit:
		return true
	}
	return false
}

type Status string

const (
	StatusPending Status = "pending"
	StatusDecided Status = "decided"
)

// Register outcomes for the action-permission queue.
const (
	RegisterQueued      = "queued"
	RegisterAutoAllowed = "auto_allowed"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyDecided = errors.New("already decided")
)

// PermissionRequest is one screen action waiting for review. The in-memory
// queue stores richer metadata than the content-task queue: coordinates,
// text to type, and the planner's confidence.
type PermissionRequest struct {
	TaskID      string    `json:"task_id"`
	ActionType  string    `json:"action_type"`
	Description string    `json:"description"`
	X           *int      `json:"x,omitempty"`
	Y           *int      `json:"y,omitempty"`
	Text        string    `json:"text,omitempty"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r *PermissionRequest) normalize() {
	r.TaskID = strings.TrimSpace(r.TaskID)
	r.ActionType = strings.TrimSpace(r.ActionType)
	r.Description = strings.TrimSpace(r.Description)
}

// DecisionResult is what a poll on a permission task id yields.
type DecisionResult struct {
	Decision PermissionDecision `json:"decision"`
	EditData json.RawMessage    `json:"edit_data,omitempty"`
}

// TaskRecord is one entry of the durable content-task queue as exposed on
// the wire.
type TaskRecord struct {
	TaskID         string     `json:"task_id"`
	TaskType       string     `json:"task_type"`
	ContentPreview string     `json:"content_preview"`
	ActionLabel    string     `json:"action_label"`
	Status         Status     `json:"status"`
	Decision       TaskAction `json:"decision,omitempty"`
	EditedContent  string     `json:"edited_content,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
}
