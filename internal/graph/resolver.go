// Package graph implements the dependency resolver: it turns a flat set of
// tasks and epics into an ordered execution plan of parallel batches, with
// cycle and missing-dependency diagnostics, grounded on the teacher's
// internal/graph/graph.go Kahn-layering approach (generalized here from a
// single ready-set into the full batched plan spec.md requires).
package graph

import (
	"sort"

	"github.com/buildforge/conduct/pkg/models"
)

// Resolver computes execution plans from tasks and epics. It is stateless
// between calls; Resolve takes a full snapshot each time.
type Resolver struct{}

// NewResolver creates a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// node is the resolver's internal per-task bookkeeping.
type node struct {
	task      *models.Task
	epic      *models.Epic
	hardPreds map[string]bool // tasks that must complete before this one
	softPreds map[string]bool // ordering-only predecessors in the same batch
	hardSuccs map[string]bool
	inDegree  int // count of unresolved hard predecessors
}

// Resolve builds the DependencyGraph (Plan) for the given tasks and epics,
// per spec.md §4.A: epic-level edges expand to hard task-level edges,
// missing targets are recorded and excluded from layering, Kahn's algorithm
// layers batches with a deterministic intra-batch sort, residual cycles are
// reported as one entry per weakly-connected component, and a
// file-conflict-flattening pass pushes colliding lower-priority tasks into
// later batches. Resolve never itself fails: cycles and missing references
// are reported in the result, not as an error return.
func (r *Resolver) Resolve(tasks []*models.Task, epics []*models.Epic) *models.Plan {
	plan := &models.Plan{}

	epicByID := make(map[string]*models.Epic, len(epics))
	for _, e := range epics {
		epicByID[e.ID] = e
	}

	taskByID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		taskByID[t.ID] = t
	}

	nodes := make(map[string]*node, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = &node{
			task:      t,
			epic:      epicByID[t.EpicID],
			hardPreds: map[string]bool{},
			softPreds: map[string]bool{},
			hardSuccs: map[string]bool{},
		}
	}

	// Declared task-level edges.
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := taskByID[dep.TaskID]; !ok {
				plan.MissingDeps = append(plan.MissingDeps, models.MissingDependency{
					TaskID: t.ID, MissingID: dep.TaskID,
				})
				continue
			}
			switch dep.Type {
			case models.DependencySoft:
				nodes[t.ID].softPreds[dep.TaskID] = true
			default:
				addHardEdge(nodes, dep.TaskID, t.ID)
			}
		}
	}

	// Epic-level edges: E1 -> E2 expands to a hard edge from every task of
	// E1 to every task of E2.
	tasksByEpic := make(map[string][]string)
	for _, t := range tasks {
		tasksByEpic[t.EpicID] = append(tasksByEpic[t.EpicID], t.ID)
	}
	for _, e := range epics {
		for _, depEpicID := range e.DependsOn {
			if _, ok := epicByID[depEpicID]; !ok {
				continue // epic-level missing refs are not individually tracked; their
				// task edges simply never materialize, matching "ignored for sorting".
			}
			for _, predTaskID := range tasksByEpic[depEpicID] {
				for _, succTaskID := range tasksByEpic[e.ID] {
					addHardEdge(nodes, predTaskID, succTaskID)
				}
			}
		}
	}

	for _, n := range nodes {
		n.inDegree = len(n.hardPreds)
	}

	// Kahn's layered topological sort.
	remaining := make(map[string]*node, len(nodes))
	for id, n := range nodes {
		remaining[id] = n
	}

	for len(remaining) > 0 {
		var ready []string
		for id, n := range remaining {
			if n.inDegree == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			break // everything left sits on a cycle
		}

		sortBatch(ready, nodes, epicByID)

		plan.Batches = append(plan.Batches, ready)
		plan.TaskOrder = append(plan.TaskOrder, ready...)

		for _, id := range ready {
			n := remaining[id]
			for succID := range n.hardSuccs {
				if sn, ok := remaining[succID]; ok {
					sn.inDegree--
				}
			}
			delete(remaining, id)
		}
	}

	if len(remaining) > 0 {
		plan.CircularDeps = weaklyConnectedComponents(remaining)
		// A fatal cycle voids the plan's batches per spec.md §4.A ("the
		// executor treats any non-empty circular_deps as fatal for the
		// whole run"); reporting partial batches alongside a cycle would
		// invite callers to start work that can never safely complete.
		plan.Batches = nil
		plan.TaskOrder = nil
		return plan
	}

	r.flattenFileConflicts(plan, taskByID)
	applySoftOrderWithinBatches(plan, nodes)

	return plan
}

func addHardEdge(nodes map[string]*node, fromID, toID string) {
	from, ok1 := nodes[fromID]
	to, ok2 := nodes[toID]
	if !ok1 || !ok2 {
		return
	}
	if !from.hardSuccs[toID] {
		from.hardSuccs[toID] = true
		to.hardPreds[fromID] = true
	}
}

// sortBatch orders a ready-set deterministically: task priority ascending,
// then epic priority ascending, then task ID ascending.
func sortBatch(ids []string, nodes map[string]*node, epicByID map[string]*models.Epic) {
	sort.Slice(ids, func(i, j int) bool {
		ni, nj := nodes[ids[i]], nodes[ids[j]]
		if ni.task.Priority != nj.task.Priority {
			return ni.task.Priority < nj.task.Priority
		}
		epi, epj := epicPriority(ni.epic), epicPriority(nj.epic)
		if epi != epj {
			return epi < epj
		}
		return ids[i] < ids[j]
	})
}

func epicPriority(e *models.Epic) int {
	if e == nil {
		return 0
	}
	return e.Priority
}

// applySoftOrderWithinBatches reorders tasks inside each batch so that a
// soft predecessor sorts before its soft successor when both share a batch,
// without affecting layering or which batch either lands in.
func applySoftOrderWithinBatches(plan *models.Plan, nodes map[string]*node) {
	for bi, batch := range plan.Batches {
		inBatch := make(map[string]bool, len(batch))
		for _, id := range batch {
			inBatch[id] = true
		}

		ordered := make([]string, len(batch))
		copy(ordered, batch)

		// Stable pass: repeatedly bubble a successor after its soft
		// predecessor until no more swaps occur, bounded by batch size.
		for pass := 0; pass < len(ordered); pass++ {
			swapped := false
			pos := make(map[string]int, len(ordered))
			for i, id := range ordered {
				pos[id] = i
			}
			for _, id := range ordered {
				n := nodes[id]
				for predID := range n.softPreds {
					if !inBatch[predID] {
						continue
					}
					if pos[predID] > pos[id] {
						// Move id to just after predID.
						moveAfter(ordered, pos, id, predID)
						swapped = true
						break
					}
				}
				if swapped {
					break
				}
			}
			if !swapped {
				break
			}
		}
		plan.Batches[bi] = ordered
	}

	// Rebuild TaskOrder to reflect any intra-batch reordering.
	var order []string
	for _, b := range plan.Batches {
		order = append(order, b...)
	}
	plan.TaskOrder = order
}

func moveAfter(ordered []string, pos map[string]int, id, afterID string) {
	idPos := pos[id]
	afterPos := pos[afterID]
	if idPos == afterPos+1 {
		return
	}
	// Remove id, then reinsert right after afterID's (possibly shifted) position.
	tmp := make([]string, 0, len(ordered))
	for i, v := range ordered {
		if i == idPos {
			continue
		}
		tmp = append(tmp, v)
		if v == afterID {
			tmp = append(tmp, id)
		}
	}
	copy(ordered, tmp)
}

// flattenFileConflicts implements spec.md §4.A's file-conflict-flattening
// pass: for each batch, if two tasks declare an overlapping predicted file,
// the lower-priority task is pushed into the next batch (created if
// needed), and the batch is re-checked. Capped at len(tasks) iterations to
// guarantee termination.
func (r *Resolver) flattenFileConflicts(plan *models.Plan, taskByID map[string]*models.Task) {
	maxIterations := len(taskByID)
	if maxIterations == 0 {
		return
	}

	for iter := 0; iter < maxIterations; iter++ {
		moved := false

		for bi := 0; bi < len(plan.Batches); bi++ {
			batch := plan.Batches[bi]
			seen := make(map[string]string) // file -> task ID holding it

			var evictID string
			for _, id := range batch {
				for _, f := range taskByID[id].PredictedFiles {
					holder, ok := seen[f]
					if !ok {
						seen[f] = id
						continue
					}
					// Conflict between holder and id: evict the lower-priority one.
					evictID = lowerPriority(taskByID[holder], taskByID[id])
					break
				}
				if evictID != "" {
					break
				}
			}

			if evictID == "" {
				continue
			}

			plan.Batches[bi] = removeID(batch, evictID)
			if bi+1 == len(plan.Batches) {
				plan.Batches = append(plan.Batches, []string{evictID})
			} else {
				plan.Batches[bi+1] = append(plan.Batches[bi+1], evictID)
			}
			moved = true
		}

		if !moved {
			break
		}
	}

	// Drop any batch left empty by eviction, and rebuild TaskOrder.
	var compact [][]string
	var order []string
	for _, b := range plan.Batches {
		if len(b) == 0 {
			continue
		}
		compact = append(compact, b)
		order = append(order, b...)
	}
	plan.Batches = compact
	plan.TaskOrder = order
}

func lowerPriority(a, b *models.Task) string {
	// Lower priority value means higher precedence (runs first); the task
	// with the numerically larger priority value is "lower priority" and
	// gets evicted. Ties break on ID to stay deterministic.
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return a.ID
		}
		return b.ID
	}
	if a.ID > b.ID {
		return a.ID
	}
	return b.ID
}

func removeID(ids []string, target string) []string {
	out := make([]string, 0, len(ids)-1)
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// weaklyConnectedComponents groups the residual (cyclic) nodes into
// connected components, treating hard edges as undirected for this purpose.
func weaklyConnectedComponents(remaining map[string]*node) [][]string {
	visited := make(map[string]bool, len(remaining))
	var components [][]string

	for id := range remaining {
		if visited[id] {
			continue
		}
		var component []string
		queue := []string{id}
		visited[id] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			component = append(component, cur)

			n, ok := remaining[cur]
			if !ok {
				continue
			}
			for succID := range n.hardSuccs {
				if _, stillRemaining := remaining[succID]; stillRemaining && !visited[succID] {
					visited[succID] = true
					queue = append(queue, succID)
				}
			}
			for predID := range n.hardPreds {
				if _, stillRemaining := remaining[predID]; stillRemaining && !visited[predID] {
					visited[predID] = true
					queue = append(queue, predID)
				}
			}
		}
		sort.Strings(component)
		components = append(components, component)
	}

	sort.Slice(components, func(i, j int) bool { return components[i][0] < components[j][0] })
	return components
}
