package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/buildforge/conduct/internal/agentrunner"
	"github.com/buildforge/conduct/internal/eventbus"
	"github.com/buildforge/conduct/internal/expertise"
	"github.com/buildforge/conduct/internal/merge"
	"github.com/buildforge/conduct/internal/repobackend"
	"github.com/buildforge/conduct/internal/selector"
	"github.com/buildforge/conduct/internal/store"
	"github.com/buildforge/conduct/internal/worktree"
	"github.com/buildforge/conduct/pkg/models"
)

// fakeGit is a minimal git.Runner double: every mutating call succeeds and
// WorktreeAdd/WorktreeAddNewBranch actually create the target directory so
// the worktree manager's re-use check behaves like a real checkout.
type fakeGit struct{}

func (fakeGit) CurrentBranch() (string, error)          { return "main", nil }
func (fakeGit) CreateBranch(name string) error          { return nil }
func (fakeGit) CreateAndCheckoutBranch(name string) error { return nil }
func (fakeGit) CheckoutBranch(name string) error        { return nil }
func (fakeGit) BranchExists(name string) (bool, error)   { return false, nil }
func (fakeGit) DeleteBranch(name string) error           { return nil }
func (fakeGit) Status() (string, error)                  { return "", nil }
func (fakeGit) HasChanges() (bool, error)                 { return false, nil }
func (fakeGit) Diff(base string) (string, error)          { return "", nil }
func (fakeGit) DiffBetween(ref1, ref2 string) (string, error) { return "", nil }
func (fakeGit) ChangedFiles(base string) ([]string, error)    { return nil, nil }
func (fakeGit) ChangedFilesBetween(ref1, ref2 string) ([]string, error) { return nil, nil }
func (fakeGit) ChangedFilesRelative(branch, relativeTo string) ([]string, error) { return nil, nil }
func (fakeGit) ConflictedFiles() ([]string, error) { return nil, nil }
func (fakeGit) Add(paths ...string) error          { return nil }
func (fakeGit) Commit(message string) error        { return nil }
func (fakeGit) Reset(ref string) error             { return nil }
func (fakeGit) CheckoutPath(path string) error     { return nil }
func (fakeGit) Merge(branch string) error          { return nil }
func (fakeGit) MergeNoFF(branch string) error      { return nil }
func (fakeGit) MergeNoFFMessage(branch, message string) error { return nil }
func (fakeGit) MergeAbort() error                   { return nil }
func (fakeGit) MergeBase(branch1, branch2 string) (string, error) { return "", nil }
func (fakeGit) HasConflicts() (bool, error)          { return false, nil }
func (fakeGit) Rebase(base string) error             { return nil }
func (fakeGit) RebaseAbort() error                   { return nil }
func (fakeGit) WorktreeAdd(path, branch string) error { return os.MkdirAll(path, 0755) }
func (fakeGit) WorktreeAddNewBranch(path, branch string) error { return os.MkdirAll(path, 0755) }
func (fakeGit) WorktreeRemove(path string) error      { return os.RemoveAll(path) }
func (fakeGit) WorktreeRemoveOptionalForce(path string, force bool) error { return os.RemoveAll(path) }
func (fakeGit) WorktreeUnlock(path string) error      { return nil }
func (fakeGit) WorktreeList() ([]string, error)       { return nil, nil }
func (fakeGit) WorktreeListPorcelain() (string, error) { return "", nil }
func (fakeGit) WorktreePrune() error                   { return nil }
func (fakeGit) WorktreePruneExpireNow() error          { return nil }
func (fakeGit) PullFFOnly() error                      { return nil }
func (fakeGit) ShowFile(ref, path string) (string, error) { return "", nil }
func (fakeGit) CheckoutOurs(path string) error    { return nil }
func (fakeGit) CheckoutTheirs(path string) error  { return nil }
func (fakeGit) Run(args ...string) (string, error) { return "", nil }

type harness struct {
	exec  *Executor
	store *store.Store
	fake  *agentrunner.Fake
	bus   *eventbus.Bus
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "conduct.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	exStore, err := expertise.Open(filepath.Join(dir, "expertise.db"))
	if err != nil {
		t.Fatalf("expertise.Open: %v", err)
	}
	t.Cleanup(func() { exStore.Close() })

	wtMgr, err := worktree.NewWithRunner(filepath.Join(dir, "worktrees"), filepath.Join(dir, "repo"), fakeGit{})
	if err != nil {
		t.Fatalf("worktree.NewWithRunner: %v", err)
	}

	backend := repobackend.NewWithRunner(filepath.Join(dir, "repo"), fakeGit{})
	validator := merge.New(backend, merge.NoTestRunner{}, false)
	validator.SetWorktreeBackendFactory(func(path string) *repobackend.Backend {
		return repobackend.NewWithRunner(path, fakeGit{})
	})

	sel := selector.New()
	bus := eventbus.New()
	fake := &agentrunner.Fake{}

	exec := New(cfg, st, exStore, wtMgr, validator, sel, fake, bus, nil)
	return &harness{exec: exec, store: st, fake: fake, bus: bus}
}

func seedEpicAndTasks(t *testing.T, st *store.Store, projectID string, epic *models.Epic, tasks []*models.Task) {
	t.Helper()
	if err := st.CreateEpic(projectID, epic); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	for _, task := range tasks {
		if err := st.CreateTask(projectID, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
}

func TestExecuteProject_SingleEpicSingleTask_MergesAndCompletes(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrency: 2})
	projectID := "proj1"

	epic := &models.Epic{ID: "e1", Name: "add auth", Priority: 1}
	task := &models.Task{ID: "t1", EpicID: "e1", Priority: 1, Description: "implement login", Action: "implement", Status: models.TaskStatusPending}
	seedEpicAndTasks(t, h.store, projectID, epic, []*models.Task{task})

	h.fake.Results = []*agentrunner.RunResult{agentrunner.NewSuccess("implemented login")}

	summary, err := h.exec.ExecuteProject(context.Background(), projectID)
	if err != nil {
		t.Fatalf("ExecuteProject: %v", err)
	}
	if summary.TotalTasks != 1 || summary.CompletedTasks != 1 || summary.FailedTasks != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.TotalBatches != 1 || summary.CompletedBatches != 1 {
		t.Errorf("batch counts = %+v", summary)
	}

	stored, _, err := h.store.GetWithTests("t1")
	if err != nil {
		t.Fatalf("GetWithTests: %v", err)
	}
	if stored.Status != models.TaskStatusDone || !stored.Done {
		t.Errorf("task status = %+v, want done", stored)
	}

	worktrees, err := h.store.ListWorktrees(projectID)
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(worktrees) != 0 {
		t.Errorf("expected worktree row deleted after clean merge, got %d rows", len(worktrees))
	}
}

func TestExecuteBatch_EpicsRunConcurrentlyWithinCap(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrency: 2})
	projectID := "proj1"

	epicA := &models.Epic{ID: "eA", Name: "alpha", Priority: 1}
	epicB := &models.Epic{ID: "eB", Name: "beta", Priority: 1}
	taskA := &models.Task{ID: "tA", EpicID: "eA", Priority: 1, Description: "do a", Action: "implement", Status: models.TaskStatusPending}
	taskB := &models.Task{ID: "tB", EpicID: "eB", Priority: 1, Description: "do b", Action: "implement", Status: models.TaskStatusPending}

	seedEpicAndTasks(t, h.store, projectID, epicA, []*models.Task{taskA})
	if err := h.store.CreateEpic(projectID, epicB); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	if err := h.store.CreateTask(projectID, taskB); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	h.fake.Results = []*agentrunner.RunResult{
		agentrunner.NewSuccess("done a"),
		agentrunner.NewSuccess("done b"),
	}

	taskByID := map[string]*models.Task{"tA": taskA, "tB": taskB}
	epicByID := map[string]*models.Epic{"eA": epicA, "eB": epicB}

	result, err := h.exec.ExecuteBatch(context.Background(), projectID, 0, []string{"tA", "tB"}, taskByID, epicByID)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if len(result.Succeeded) != 2 {
		t.Errorf("Succeeded = %v, want 2 tasks", result.Succeeded)
	}
	if len(h.fake.Calls) != 2 {
		t.Errorf("AgentRunner called %d times, want 2", len(h.fake.Calls))
	}
}

func TestRunTask_FailureLeavesWorktreeActiveAndSkipsMerge(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrency: 1})
	projectID := "proj1"

	epic := &models.Epic{ID: "e1", Name: "flaky", Priority: 1}
	task := &models.Task{ID: "t1", EpicID: "e1", Priority: 1, Description: "break things", Action: "implement", Status: models.TaskStatusPending}
	seedEpicAndTasks(t, h.store, projectID, epic, []*models.Task{task})

	h.fake.Results = []*agentrunner.RunResult{agentrunner.NewFailure("could not compile", "exit status 1")}

	taskByID := map[string]*models.Task{"t1": task}
	epicByID := map[string]*models.Epic{"e1": epic}

	result, err := h.exec.ExecuteBatch(context.Background(), projectID, 0, []string{"t1"}, taskByID, epicByID)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("Failed = %v, want [t1]", result.Failed)
	}
	if outcome := result.EpicOutcomes["e1"]; outcome.AllSucceeded || outcome.MergeOutcome != nil {
		t.Errorf("expected no merge attempt for a failed epic, got %+v", outcome)
	}

	worktrees, err := h.store.ListWorktrees(projectID)
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(worktrees) != 1 || worktrees[0].Status != models.WorktreeActive {
		t.Errorf("expected one active worktree preserved for resume, got %+v", worktrees)
	}
}

func TestCancel_StopsSchedulingAndMarksTasksCancelled(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrency: 1})
	projectID := "proj1"

	epic := &models.Epic{ID: "e1", Name: "cancel me", Priority: 1}
	task := &models.Task{ID: "t1", EpicID: "e1", Priority: 1, Description: "slow task", Action: "implement", Status: models.TaskStatusPending}
	seedEpicAndTasks(t, h.store, projectID, epic, []*models.Task{task})

	h.exec.Cancel()

	taskByID := map[string]*models.Task{"t1": task}
	epicByID := map[string]*models.Epic{"e1": epic}

	result, err := h.exec.ExecuteBatch(context.Background(), projectID, 0, []string{"t1"}, taskByID, epicByID)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if len(result.Cancelled) != 1 {
		t.Errorf("Cancelled = %v, want [t1]", result.Cancelled)
	}
	if len(h.fake.Calls) != 0 {
		t.Errorf("expected no agent calls after cancel, got %d", len(h.fake.Calls))
	}
}

func TestExecuteProject_CycleAbortsAndPublishesPlanError(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrency: 2})
	projectID := "proj1"

	epic := &models.Epic{ID: "e1", Name: "cyclic", Priority: 1}
	t1 := &models.Task{ID: "t1", EpicID: "e1", Priority: 1, Description: "first", Action: "implement", Status: models.TaskStatusPending, DependsOn: []models.Dependency{{TaskID: "t2", Type: models.DependencyHard}}}
	t2 := &models.Task{ID: "t2", EpicID: "e1", Priority: 1, Description: "second", Action: "implement", Status: models.TaskStatusPending, DependsOn: []models.Dependency{{TaskID: "t1", Type: models.DependencyHard}}}
	seedEpicAndTasks(t, h.store, projectID, epic, []*models.Task{t1, t2})

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	summary, err := h.exec.ExecuteProject(context.Background(), projectID)
	if err == nil {
		t.Fatal("expected ExecuteProject to fail on a dependency cycle")
	}
	if summary.TotalBatches != 0 || summary.CompletedBatches != 0 || summary.CompletedTasks != 0 {
		t.Errorf("expected an empty summary on cycle abort, got %+v", summary)
	}
	if len(h.fake.Calls) != 0 {
		t.Errorf("expected no agent calls on cycle abort, got %d", len(h.fake.Calls))
	}

	select {
	case event := <-sub.Events:
		if event.Type != eventbus.EventPlanError {
			t.Errorf("event.Type = %q, want %q", event.Type, eventbus.EventPlanError)
		}
	default:
		t.Fatal("expected a single plan-error event to be published")
	}

	select {
	case event := <-sub.Events:
		t.Errorf("expected exactly one event, got an extra %+v", event)
	default:
	}
}

func TestStatus_ReportsConfiguredConcurrencyCap(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrency: 5})
	snap := h.exec.Status()
	if snap.MaxConcurrency != 5 {
		t.Errorf("MaxConcurrency = %d, want 5", snap.MaxConcurrency)
	}
	if len(snap.Active) != 0 {
		t.Errorf("expected no active agents, got %d", len(snap.Active))
	}
}
