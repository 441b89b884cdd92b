package models

import "time"

// BatchStatus is the lifecycle state of a persisted Batch record.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusMerging   BatchStatus = "merging"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusPending, BatchStatusRunning, BatchStatusMerging,
		BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// Batch is a persisted record of one layer of the execution plan as it runs.
type Batch struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	BatchNumber int         `json:"batch_number"`
	TaskIDs     []string    `json:"task_ids"`
	Status      BatchStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}
