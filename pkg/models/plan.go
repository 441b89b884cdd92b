package models

// MissingDependency records a declared dependency edge whose target task
// does not exist. It is non-fatal; the resolver records it and excludes the
// edge from layering.
type MissingDependency struct {
	TaskID    string `json:"task_id"`
	MissingID string `json:"missing_id"`
}

// Plan is the output of the dependency resolver: ordered batches plus
// diagnostics. This is the "DependencyGraph" entity of the data model — named
// Plan here to avoid colliding with the resolver's own working graph type in
// package graph.
type Plan struct {
	// Batches is the ordered sequence of batches: each is a maximal
	// anti-chain of task IDs. Batch k's tasks may only start once every hard
	// predecessor in batches [0..k) has completed. This is the resolver's
	// raw grouping; the executor turns each one into a persisted Batch
	// record (see batch.go) when it starts running it.
	Batches [][]string `json:"batches"`
	// TaskOrder is the full ordered sequence of task IDs, batch-major,
	// intra-batch order as produced by the deterministic sort.
	TaskOrder []string `json:"task_order"`
	// CircularDeps lists one entry per weakly-connected component found in
	// the residual graph after layering — i.e. the tasks that sit on a cycle.
	CircularDeps [][]string `json:"circular_deps,omitempty"`
	// MissingDeps lists declared dependencies whose target could not be found.
	MissingDeps []MissingDependency `json:"missing_deps,omitempty"`
}

// HasCycle reports whether the plan contains any circular dependency.
// The executor treats this as fatal for the whole run.
func (p *Plan) HasCycle() bool {
	return len(p.CircularDeps) > 0
}
