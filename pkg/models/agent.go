package models

import (
	"context"
	"time"
)

// RunningAgent is the in-memory record of a task currently inside an agent
// call. It exists only between task start and task completion; it is never
// persisted.
type RunningAgent struct {
	TaskID       string
	EpicID       string
	WorktreePath string
	Model        string
	StartedAt    time.Time
	// Cancel signals the running agent to stop. Closing it (rather than
	// sending on it) lets every suspension point observe cancellation with a
	// single select case, matching the context.Context idiom used throughout
	// the executor.
	Cancel context.CancelFunc
}
