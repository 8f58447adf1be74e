package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle status of a propagation task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is terminal. A failed task is
// terminal but resumable from its checkpoint.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// PropagationTask tracks one propagation run for one product. At most one
// task per product may be pending or running at any time; later changes to
// the same product coalesce into it by bumping TargetVersion.
//
// Cursor is the last quote ID the scan committed past; a resumed task
// re-issues the paged affected-quote query from it. Tasks are retained
// after completion for audit and idempotency checks.
type PropagationTask struct {
	ID            uuid.UUID `json:"id"`
	ProductID     uuid.UUID `json:"product_id"`
	TargetVersion int64     `json:"target_version"`

	Status TaskStatus `json:"status"`
	Cursor *uuid.UUID `json:"cursor,omitempty"`

	Scanned        int64       `json:"scanned"`
	Updated        int64       `json:"updated"`
	Skipped        int64       `json:"skipped"`
	FailedQuoteIDs []uuid.UUID `json:"failed_quote_ids,omitempty"`

	RetryCount int     `json:"retry_count"`
	Error      *string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
