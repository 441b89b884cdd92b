package models

import "time"

// WorktreeStatus is the lifecycle state of an epic's worktree.
type WorktreeStatus string

const (
	// WorktreeActive means the worktree exists and its epic is in progress.
	WorktreeActive WorktreeStatus = "active"
	// WorktreeMerging means a merge of the worktree's branch is underway.
	WorktreeMerging WorktreeStatus = "merging"
	// WorktreeMerged means the merge succeeded; the record is about to be
	// (or has been) deleted by cleanup.
	WorktreeMerged WorktreeStatus = "merged"
	// WorktreeConflict means the dry-merge or merge detected a conflict;
	// the worktree is preserved for manual or AI-assisted resolution.
	WorktreeConflict WorktreeStatus = "conflict"
	// WorktreeStale means recovery found the directory missing while the
	// store still listed the worktree as active.
	WorktreeStale WorktreeStatus = "stale"
)

// Valid returns true if the status is a known value.
func (s WorktreeStatus) Valid() bool {
	switch s {
	case WorktreeActive, WorktreeMerging, WorktreeMerged, WorktreeConflict, WorktreeStale:
		return true
	default:
		return false
	}
}

// Worktree is the persisted record of an epic's isolated working directory.
type Worktree struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	EpicID      string         `json:"epic_id"`
	Branch      string         `json:"branch"`
	Path        string         `json:"path"`
	Status      WorktreeStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	MergedAt    *time.Time     `json:"merged_at,omitempty"`
	MergeCommit string         `json:"merge_commit,omitempty"`
}
