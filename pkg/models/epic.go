package models

// Epic is a named group of tasks that share a single worktree. Tasks within
// an epic always run sequentially, in priority order; distinct epics run
// concurrently subject to the global concurrency cap.
type Epic struct {
	// ID is the unique identifier for this epic.
	ID string `json:"id"`
	// Name is the human-readable epic name; it is sanitized for use in a
	// branch identifier by the worktree manager.
	Name string `json:"name"`
	// Priority breaks ties when sorting epics within a batch.
	Priority int `json:"priority"`
	// DependsOn lists epic IDs that must fully complete before this epic's
	// tasks may start. Each such edge expands to a hard edge from every task
	// of the predecessor epic to every task of this epic.
	DependsOn []string `json:"depends_on,omitempty"`
}
