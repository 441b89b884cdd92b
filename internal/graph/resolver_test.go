package graph

import (
	"reflect"
	"testing"

	"github.com/buildforge/conduct/pkg/models"
)

func hard(id string) models.Dependency { return models.Dependency{TaskID: id, Type: models.DependencyHard} }
func soft(id string) models.Dependency { return models.Dependency{TaskID: id, Type: models.DependencySoft} }

func TestResolve_EmptyTaskSet(t *testing.T) {
	plan := NewResolver().Resolve(nil, nil)
	if len(plan.Batches) != 0 {
		t.Errorf("expected 0 batches, got %d", len(plan.Batches))
	}
	if plan.HasCycle() {
		t.Error("empty plan should not report a cycle")
	}
}

func TestResolve_LinearChain(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t1", EpicID: "e1"},
		{ID: "t2", EpicID: "e1", DependsOn: []models.Dependency{hard("t1")}},
		{ID: "t3", EpicID: "e1", DependsOn: []models.Dependency{hard("t2")}},
	}
	epics := []*models.Epic{{ID: "e1"}}

	plan := NewResolver().Resolve(tasks, epics)

	if len(plan.Batches) != 3 {
		t.Fatalf("expected 3 batches, got %d: %v", len(plan.Batches), plan.Batches)
	}
	want := [][]string{{"t1"}, {"t2"}, {"t3"}}
	if !reflect.DeepEqual(plan.Batches, want) {
		t.Errorf("batches = %v, want %v", plan.Batches, want)
	}
}

func TestResolve_Diamond(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t1", EpicID: "e1"},
		{ID: "t2", EpicID: "e2", DependsOn: []models.Dependency{hard("t1")}},
		{ID: "t3", EpicID: "e3", DependsOn: []models.Dependency{hard("t1")}},
		{ID: "t4", EpicID: "e1", DependsOn: []models.Dependency{hard("t2"), hard("t3")}},
	}
	epics := []*models.Epic{{ID: "e1"}, {ID: "e2"}, {ID: "e3"}}

	plan := NewResolver().Resolve(tasks, epics)

	if len(plan.Batches) != 3 {
		t.Fatalf("expected 3 batches, got %d: %v", len(plan.Batches), plan.Batches)
	}
	if !reflect.DeepEqual(plan.Batches[0], []string{"t1"}) {
		t.Errorf("batch 0 = %v, want [t1]", plan.Batches[0])
	}
	if !reflect.DeepEqual(plan.Batches[2], []string{"t4"}) {
		t.Errorf("batch 2 = %v, want [t4]", plan.Batches[2])
	}
	batch1 := map[string]bool{}
	for _, id := range plan.Batches[1] {
		batch1[id] = true
	}
	if !batch1["t2"] || !batch1["t3"] || len(batch1) != 2 {
		t.Errorf("batch 1 = %v, want {t2, t3}", plan.Batches[1])
	}
}

func TestResolve_CycleDetected(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t1", EpicID: "e1", DependsOn: []models.Dependency{hard("t3")}},
		{ID: "t2", EpicID: "e1", DependsOn: []models.Dependency{hard("t1")}},
		{ID: "t3", EpicID: "e1", DependsOn: []models.Dependency{hard("t2")}},
	}

	plan := NewResolver().Resolve(tasks, nil)

	if !plan.HasCycle() {
		t.Fatal("expected a cycle to be detected")
	}
	if len(plan.Batches) != 0 {
		t.Errorf("expected no batches when a cycle is present, got %v", plan.Batches)
	}
	if len(plan.CircularDeps) != 1 || len(plan.CircularDeps[0]) != 3 {
		t.Errorf("circular_deps = %v, want one component of size 3", plan.CircularDeps)
	}
}

func TestResolve_MissingDependencyIsNonFatal(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t1", EpicID: "e1", DependsOn: []models.Dependency{hard("ghost")}},
	}

	plan := NewResolver().Resolve(tasks, nil)

	if plan.HasCycle() {
		t.Error("missing dependency should not be reported as a cycle")
	}
	if len(plan.MissingDeps) != 1 || plan.MissingDeps[0].MissingID != "ghost" {
		t.Errorf("missing_deps = %v, want one entry referencing 'ghost'", plan.MissingDeps)
	}
	if len(plan.Batches) != 1 || plan.Batches[0][0] != "t1" {
		t.Errorf("expected t1 to still be scheduled in batch 0, got %v", plan.Batches)
	}
}

func TestResolve_EpicDependencyExpandsToHardTaskEdges(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a1", EpicID: "e1"},
		{ID: "a2", EpicID: "e1"},
		{ID: "b1", EpicID: "e2"},
	}
	epics := []*models.Epic{
		{ID: "e1"},
		{ID: "e2", DependsOn: []string{"e1"}},
	}

	plan := NewResolver().Resolve(tasks, epics)

	if len(plan.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %d: %v", len(plan.Batches), plan.Batches)
	}
	batch0 := map[string]bool{}
	for _, id := range plan.Batches[0] {
		batch0[id] = true
	}
	if !batch0["a1"] || !batch0["a2"] {
		t.Errorf("batch 0 = %v, want {a1, a2}", plan.Batches[0])
	}
	if !reflect.DeepEqual(plan.Batches[1], []string{"b1"}) {
		t.Errorf("batch 1 = %v, want [b1]", plan.Batches[1])
	}
}

func TestResolve_DeterministicIntraBatchOrder(t *testing.T) {
	tasks := []*models.Task{
		{ID: "z", EpicID: "e2", Priority: 1},
		{ID: "a", EpicID: "e1", Priority: 1},
		{ID: "m", EpicID: "e1", Priority: 0},
	}
	epics := []*models.Epic{{ID: "e1", Priority: 0}, {ID: "e2", Priority: 1}}

	plan := NewResolver().Resolve(tasks, epics)

	want := []string{"m", "a", "z"}
	if !reflect.DeepEqual(plan.Batches[0], want) {
		t.Errorf("batch 0 = %v, want %v", plan.Batches[0], want)
	}
}

func TestResolve_SoftEdgeDoesNotAffectLayering(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t1", EpicID: "e1"},
		{ID: "t2", EpicID: "e1", DependsOn: []models.Dependency{soft("t1")}},
	}

	plan := NewResolver().Resolve(tasks, nil)

	// Both tasks have no hard predecessors, so both land in batch 0, with
	// t1 ordered before t2 by the soft edge.
	if len(plan.Batches) != 1 {
		t.Fatalf("expected 1 batch (soft edges don't create layers), got %d", len(plan.Batches))
	}
	if !reflect.DeepEqual(plan.Batches[0], []string{"t1", "t2"}) {
		t.Errorf("batch 0 = %v, want [t1 t2] (soft predecessor first)", plan.Batches[0])
	}
}

func TestResolve_FileConflictFlattening(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t2", EpicID: "e2", Priority: 1, PredictedFiles: []string{"a.txt"}},
		{ID: "t3", EpicID: "e3", Priority: 2, PredictedFiles: []string{"a.txt"}},
	}

	plan := NewResolver().Resolve(tasks, nil)

	if len(plan.Batches) != 2 {
		t.Fatalf("expected the conflicting task to be pushed to batch 1, got %v", plan.Batches)
	}
	if !reflect.DeepEqual(plan.Batches[0], []string{"t2"}) {
		t.Errorf("batch 0 = %v, want [t2] (higher priority keeps the file)", plan.Batches[0])
	}
	if !reflect.DeepEqual(plan.Batches[1], []string{"t3"}) {
		t.Errorf("batch 1 = %v, want [t3]", plan.Batches[1])
	}
}

func TestResolve_NoFileConflictWhenFilesDiffer(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t2", EpicID: "e2", PredictedFiles: []string{"a.txt"}},
		{ID: "t3", EpicID: "e3", PredictedFiles: []string{"b.txt"}},
	}

	plan := NewResolver().Resolve(tasks, nil)

	if len(plan.Batches) != 1 || len(plan.Batches[0]) != 2 {
		t.Errorf("expected both tasks in a single batch, got %v", plan.Batches)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t1", EpicID: "e1"},
		{ID: "t2", EpicID: "e1", DependsOn: []models.Dependency{hard("t1")}},
		{ID: "t3", EpicID: "e2", DependsOn: []models.Dependency{hard("t1")}},
	}
	epics := []*models.Epic{{ID: "e1"}, {ID: "e2"}}

	p1 := NewResolver().Resolve(tasks, epics)
	p2 := NewResolver().Resolve(tasks, epics)

	if !reflect.DeepEqual(p1.Batches, p2.Batches) {
		t.Errorf("Resolve is not deterministic: %v vs %v", p1.Batches, p2.Batches)
	}
}

func TestToMermaidAndToASCII_Deterministic(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t1", EpicID: "e1"},
		{ID: "t2", EpicID: "e1", DependsOn: []models.Dependency{hard("t1")}},
	}
	plan := NewResolver().Resolve(tasks, nil)

	m1, m2 := ToMermaid(plan), ToMermaid(plan)
	if m1 != m2 {
		t.Error("ToMermaid is not deterministic")
	}
	if m1 == "" {
		t.Error("expected non-empty mermaid output")
	}

	a1, a2 := ToASCII(plan), ToASCII(plan)
	if a1 != a2 {
		t.Error("ToASCII is not deterministic")
	}
}

func TestToASCII_ReportsCycle(t *testing.T) {
	tasks := []*models.Task{
		{ID: "t1", DependsOn: []models.Dependency{hard("t2")}},
		{ID: "t2", DependsOn: []models.Dependency{hard("t1")}},
	}
	plan := NewResolver().Resolve(tasks, nil)

	out := ToASCII(plan)
	if out == "" {
		t.Fatal("expected non-empty output")
	}
}
