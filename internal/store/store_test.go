package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/buildforge/conduct/internal/errs"
	"github.com/buildforge/conduct/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndListTasks(t *testing.T) {
	s := openTestStore(t)

	task := &models.Task{
		ID: "t1", EpicID: "e1", Description: "do the thing", Action: "implement",
		Status: models.TaskStatusPending,
		DependsOn: []models.Dependency{{TaskID: "t0", Type: models.DependencyHard}},
		PredictedFiles: []string{"a.go"},
	}
	if err := s.CreateTask("p1", task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	pending, err := s.ListPending("p1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "t1" {
		t.Fatalf("ListPending = %v, want [t1]", pending)
	}
	if len(pending[0].DependsOn) != 1 || pending[0].DependsOn[0].TaskID != "t0" {
		t.Errorf("DependsOn = %v, want [t0]", pending[0].DependsOn)
	}
}

func TestUpdateDoneSafe_RejectsWhenTestsHaveNotPassed(t *testing.T) {
	s := openTestStore(t)
	task := &models.Task{ID: "t1", EpicID: "e1", Description: "x", Status: models.TaskStatusInProgress}
	if err := s.CreateTask("p1", task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	err := s.UpdateDoneSafe("t1", true)
	if err != errs.ErrInvariantViolation {
		t.Fatalf("UpdateDoneSafe = %v, want ErrInvariantViolation", err)
	}

	got, _, getErr := s.GetWithTests("t1")
	if getErr != nil {
		t.Fatalf("GetWithTests: %v", getErr)
	}
	if got.Done {
		t.Error("task should not be marked done when tests have not passed")
	}
}

func TestUpdateDoneSafe_SucceedsWhenTestsPass(t *testing.T) {
	s := openTestStore(t)
	task := &models.Task{ID: "t1", EpicID: "e1", Description: "x", Status: models.TaskStatusInProgress}
	if err := s.CreateTask("p1", task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.SetTestsPass("t1", true); err != nil {
		t.Fatalf("SetTestsPass: %v", err)
	}

	if err := s.UpdateDoneSafe("t1", true); err != nil {
		t.Fatalf("UpdateDoneSafe: %v", err)
	}

	got, testsPass, err := s.GetWithTests("t1")
	if err != nil {
		t.Fatalf("GetWithTests: %v", err)
	}
	if !got.Done || got.Status != models.TaskStatusDone {
		t.Errorf("task = %+v, want Done=true Status=done", got)
	}
	if !testsPass {
		t.Error("expected testsPass true")
	}
}

func TestCreateAndGetEpic(t *testing.T) {
	s := openTestStore(t)
	epic := &models.Epic{ID: "e1", Name: "auth rework", Priority: 1, DependsOn: []string{"e0"}}
	if err := s.CreateEpic("p1", epic); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}

	got, err := s.GetEpic("e1")
	if err != nil {
		t.Fatalf("GetEpic: %v", err)
	}
	if got.Name != "auth rework" || len(got.DependsOn) != 1 {
		t.Errorf("GetEpic = %+v", got)
	}

	all, err := s.ListEpics("p1")
	if err != nil {
		t.Fatalf("ListEpics: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListEpics = %v, want 1 entry", all)
	}
}

func TestBatchLifecycle(t *testing.T) {
	s := openTestStore(t)
	b, err := s.CreateBatch("p1", 0, []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	now := time.Now()
	if err := s.SetBatchStatus(b.ID, models.BatchStatusRunning, &now, nil); err != nil {
		t.Fatalf("SetBatchStatus: %v", err)
	}

	batches, err := s.ListBatches("p1")
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(batches) != 1 || batches[0].Status != models.BatchStatusRunning {
		t.Fatalf("ListBatches = %+v", batches)
	}
	if batches[0].StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}
}

func TestWorktreeLifecycle(t *testing.T) {
	s := openTestStore(t)
	wt := &models.Worktree{
		ID: "w1", ProjectID: "p1", EpicID: "e1", Branch: "epic/e1-foo",
		Path: "/tmp/w1", Status: models.WorktreeActive, CreatedAt: time.Now(),
	}
	if err := s.CreateWorktree("p1", wt); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}

	got, err := s.WorktreeByEpic("p1", "e1")
	if err != nil {
		t.Fatalf("WorktreeByEpic: %v", err)
	}
	if got.Branch != "epic/e1-foo" {
		t.Errorf("Branch = %q", got.Branch)
	}

	if err := s.MarkWorktreeMerged("w1", "deadbeef"); err != nil {
		t.Fatalf("MarkWorktreeMerged: %v", err)
	}
	got, err = s.WorktreeByEpic("p1", "e1")
	if err != nil {
		t.Fatalf("WorktreeByEpic after merge: %v", err)
	}
	if got.Status != models.WorktreeMerged || got.MergeCommit != "deadbeef" {
		t.Errorf("got = %+v, want merged with commit deadbeef", got)
	}

	if err := s.DeleteWorktree("w1"); err != nil {
		t.Fatalf("DeleteWorktree: %v", err)
	}
	list, err := s.ListWorktrees("p1")
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListWorktrees after delete = %v, want empty", list)
	}
}

func TestCostRecordingAndAggregation(t *testing.T) {
	s := openTestStore(t)
	records := []models.CostRecord{
		{ProjectID: "p1", SessionID: "s1", TaskID: "t1", Model: "haiku", InputTokens: 100, OutputTokens: 50, Cost: 0.01, OperationType: "implement", At: time.Now()},
		{ProjectID: "p1", SessionID: "s1", TaskID: "t2", Model: "haiku", InputTokens: 200, OutputTokens: 100, Cost: 0.02, OperationType: "implement", At: time.Now()},
		{ProjectID: "p1", SessionID: "s1", TaskID: "t3", Model: "opus", InputTokens: 50, OutputTokens: 25, Cost: 0.10, OperationType: "design", At: time.Now()},
	}
	for _, r := range records {
		if err := s.RecordCost(r); err != nil {
			t.Fatalf("RecordCost: %v", err)
		}
	}

	byModel, err := s.CostByModel("p1")
	if err != nil {
		t.Fatalf("CostByModel: %v", err)
	}
	if len(byModel) != 2 {
		t.Fatalf("CostByModel = %v, want 2 models", byModel)
	}

	byType, err := s.CostByTaskType("p1")
	if err != nil {
		t.Fatalf("CostByTaskType: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("CostByTaskType = %v, want 2 types", byType)
	}
}

func TestExpertisePointerUpsert(t *testing.T) {
	s := openTestStore(t)

	ptr, err := s.GetExpertisePointer("p1", models.DomainAPI)
	if err != nil {
		t.Fatalf("GetExpertisePointer: %v", err)
	}
	if ptr.Version != 0 {
		t.Errorf("fresh pointer version = %d, want 0", ptr.Version)
	}

	if err := s.UpsertExpertisePointer("p1", models.DomainAPI, 1); err != nil {
		t.Fatalf("UpsertExpertisePointer: %v", err)
	}
	if err := s.UpsertExpertisePointer("p1", models.DomainAPI, 2); err != nil {
		t.Fatalf("UpsertExpertisePointer: %v", err)
	}

	ptr, err = s.GetExpertisePointer("p1", models.DomainAPI)
	if err != nil {
		t.Fatalf("GetExpertisePointer: %v", err)
	}
	if ptr.Version != 2 {
		t.Errorf("Version = %d, want 2", ptr.Version)
	}

	if err := s.RecordExpertiseUpdate("p1:api", "s1", "learned", "added core file", ""); err != nil {
		t.Fatalf("RecordExpertiseUpdate: %v", err)
	}
}

func TestExecutionPlanSaveAndGet(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveExecutionPlan("p1", `{"batches":[["t1"]]}`); err != nil {
		t.Fatalf("SaveExecutionPlan: %v", err)
	}
	got, err := s.GetExecutionPlan("p1")
	if err != nil {
		t.Fatalf("GetExecutionPlan: %v", err)
	}
	if got != `{"batches":[["t1"]]}` {
		t.Errorf("GetExecutionPlan = %q", got)
	}

	if err := s.SaveExecutionPlan("p1", `{"batches":[["t1","t2"]]}`); err != nil {
		t.Fatalf("SaveExecutionPlan overwrite: %v", err)
	}
	got, err = s.GetExecutionPlan("p1")
	if err != nil {
		t.Fatalf("GetExecutionPlan: %v", err)
	}
	if got != `{"batches":[["t1","t2"]]}` {
		t.Errorf("GetExecutionPlan after overwrite = %q", got)
	}
}
