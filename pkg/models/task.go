package models

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates the task cannot proceed (a hard dependency failed).
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled mid-run.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusBlocked,
		TaskStatusDone, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// DependencyType distinguishes dependencies that gate layering (hard) from
// ones that only influence intra-batch ordering (soft).
type DependencyType string

const (
	// DependencyHard means the predecessor must be done before this task's batch.
	DependencyHard DependencyType = "hard"
	// DependencySoft means the predecessor is only preferred to run first
	// when both land in the same batch; it never affects layering.
	DependencySoft DependencyType = "soft"
)

// Valid returns true if the dependency type is a known value.
func (d DependencyType) Valid() bool {
	return d == DependencyHard || d == DependencySoft
}

// Dependency is one edge out of a task: the task it depends on, and whether
// that edge is hard (layering-affecting) or soft (ordering-only).
type Dependency struct {
	TaskID string         `json:"task_id"`
	Type   DependencyType `json:"type"`
}

// Task is a unit of work belonging to an Epic. It is immutable except for
// Status (tracked here in place of the bare "done" boolean from the
// transactional store, which records only completion).
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// EpicID is the epic this task belongs to.
	EpicID string `json:"epic_id"`
	// Priority orders tasks within a batch and within an epic's stream;
	// lower values run first.
	Priority int `json:"priority"`
	// Description is the natural-language instruction given to the agent.
	Description string `json:"description"`
	// Action is a short verb phrase summarizing the task (e.g. "implement", "refactor").
	Action string `json:"action"`
	// DependsOn lists the task's declared dependencies.
	DependsOn []Dependency `json:"depends_on,omitempty"`
	// Done is true once the store has recorded successful completion.
	Done bool `json:"done"`
	// Status mirrors the richer in-memory lifecycle the executor tracks;
	// Done is the durable, store-enforced summary of Status == TaskStatusDone.
	Status TaskStatus `json:"status"`
	// BlockedReason explains why Status == TaskStatusBlocked, if set.
	BlockedReason string `json:"blocked_reason,omitempty"`
	// PredictedFiles lists file paths the task is expected to touch, used by
	// the resolver's file-conflict flattening pass. Optional.
	PredictedFiles []string `json:"predicted_files,omitempty"`
	// LinesEstimate is an optional estimate of lines of code the task will
	// touch, used by the model selector's code-complexity sub-score.
	LinesEstimate int `json:"lines_estimate,omitempty"`
	// Error holds the failure message when Status == TaskStatusFailed.
	Error string `json:"error,omitempty"`
}

// HardDependencyIDs returns the task IDs of this task's hard dependencies.
func (t *Task) HardDependencyIDs() []string {
	var ids []string
	for _, d := range t.DependsOn {
		if d.Type == DependencyHard {
			ids = append(ids, d.TaskID)
		}
	}
	return ids
}

// SoftDependencyIDs returns the task IDs of this task's soft dependencies.
func (t *Task) SoftDependencyIDs() []string {
	var ids []string
	for _, d := range t.DependsOn {
		if d.Type == DependencySoft {
			ids = append(ids, d.TaskID)
		}
	}
	return ids
}
