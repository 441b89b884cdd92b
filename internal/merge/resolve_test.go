package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/buildforge/conduct/internal/repobackend"
	"github.com/buildforge/conduct/pkg/models"
)

var errConflict = errors.New("merge conflict")

// stubResolver returns a fixed Resolution (or error) for every conflict it's
// handed, so tests can drive ResolveConflict's branches deterministically.
type stubResolver struct {
	resolution Resolution
	err        error
}

func (s stubResolver) PresentConflict(ctx context.Context, conflict ConflictPresentation) (Resolution, error) {
	return s.resolution, s.err
}

func (s stubResolver) PresentMultipleConflicts(ctx context.Context, conflicts []ConflictPresentation) (Resolution, error) {
	return s.resolution, s.err
}

func newResolveValidator(t *testing.T, fr *fakeGitRunner) *Validator {
	t.Helper()
	backend := repobackend.NewWithRunner("/repo", fr)
	return New(backend, NoTestRunner{}, false)
}

func TestResolveConflict_CleanMergeNeedsNoHumanInput(t *testing.T) {
	fr := &fakeGitRunner{
		runFn: func(args ...string) (string, error) {
			if len(args) > 0 && args[0] == "rev-parse" {
				return "sha-clean", nil
			}
			return "", nil
		},
	}
	v := newResolveValidator(t, fr)
	wt := &models.Worktree{ID: "w1", EpicID: "e1", Branch: "epic/e1-x", Path: "/worktrees/e1"}

	outcome := v.ResolveConflict(context.Background(), wt, "main")
	if outcome.Kind != OutcomeClean {
		t.Fatalf("expected OutcomeClean, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
	if outcome.CommitSHA != "sha-clean" {
		t.Errorf("CommitSHA = %q", outcome.CommitSHA)
	}
}

func TestResolveConflict_NoOpResolverLeavesConflictUnresolved(t *testing.T) {
	fr := &fakeGitRunner{
		runFn: func(args ...string) (string, error) {
			if len(args) > 0 && args[0] == "rev-parse" {
				return "sha1", nil
			}
			return "", nil
		},
		mergeNoFFFn:       func(branch string) error { return errConflict },
		conflictedFilesFn: func() ([]string, error) { return []string{"go.mod"}, nil },
	}
	v := newResolveValidator(t, fr)
	wt := &models.Worktree{ID: "w1", EpicID: "e1", Branch: "epic/e1-x", Path: "/worktrees/e1"}

	outcome := v.ResolveConflict(context.Background(), wt, "main")
	if outcome.Kind != OutcomeConflict {
		t.Fatalf("expected OutcomeConflict with the default NoOpResolver, got %v", outcome.Kind)
	}
	if len(outcome.ConflictFiles) != 1 || outcome.ConflictFiles[0] != "go.mod" {
		t.Errorf("ConflictFiles = %v", outcome.ConflictFiles)
	}
}

func TestResolveConflict_AcceptAgentRetriesWithTheirsStrategy(t *testing.T) {
	var strategyUsed string
	fr := &fakeGitRunner{
		runFn: func(args ...string) (string, error) {
			switch {
			case len(args) > 0 && args[0] == "rev-parse":
				return "sha-resolved", nil
			case len(args) > 2 && args[0] == "merge" && args[1] == "--no-ff":
				for i, a := range args {
					if a == "-X" && i+1 < len(args) {
						strategyUsed = args[i+1]
					}
				}
				return "", nil
			}
			return "", nil
		},
		mergeNoFFFn:       func(branch string) error { return errConflict },
		conflictedFilesFn: func() ([]string, error) { return []string{"src/app.go"}, nil },
	}
	v := newResolveValidator(t, fr)
	v.SetResolver(stubResolver{resolution: Resolution{Strategy: AcceptAgent}})
	wt := &models.Worktree{ID: "w1", EpicID: "e1", Branch: "epic/e1-x", Path: "/worktrees/e1"}

	outcome := v.ResolveConflict(context.Background(), wt, "main")
	if outcome.Kind != OutcomeClean {
		t.Fatalf("expected OutcomeClean after accepting the agent's side, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
	if strategyUsed != "theirs" {
		t.Errorf("strategy = %q, want theirs", strategyUsed)
	}
}

func TestResolveConflict_SkipAgentLeavesConflictUnresolved(t *testing.T) {
	fr := &fakeGitRunner{
		runFn: func(args ...string) (string, error) {
			if len(args) > 0 && args[0] == "rev-parse" {
				return "sha1", nil
			}
			return "", nil
		},
		mergeNoFFFn:       func(branch string) error { return errConflict },
		conflictedFilesFn: func() ([]string, error) { return []string{"go.mod"}, nil },
	}
	v := newResolveValidator(t, fr)
	v.SetResolver(stubResolver{resolution: Resolution{Strategy: SkipAgent}})
	wt := &models.Worktree{ID: "w1", EpicID: "e1", Branch: "epic/e1-x", Path: "/worktrees/e1"}

	outcome := v.ResolveConflict(context.Background(), wt, "main")
	if outcome.Kind != OutcomeConflict {
		t.Fatalf("expected OutcomeConflict after skipping the agent, got %v", outcome.Kind)
	}
}

func TestResolveConflict_TestFailureRollsBackToCheckpoint(t *testing.T) {
	resetCalled := false
	fr := &fakeGitRunner{
		runFn: func(args ...string) (string, error) {
			switch {
			case len(args) > 0 && args[0] == "rev-parse":
				return "sha-before", nil
			case len(args) > 0 && args[0] == "reset":
				resetCalled = true
				return "", nil
			}
			return "", nil
		},
	}
	backend := repobackend.NewWithRunner("/repo", fr)
	v := New(backend, stubTestRunner{passed: false, output: "FAIL"}, false)
	wt := &models.Worktree{ID: "w1", EpicID: "e1", Branch: "epic/e1-x", Path: "/worktrees/e1"}

	outcome := v.ResolveConflict(context.Background(), wt, "main")
	if outcome.Kind != OutcomeTestFailed {
		t.Fatalf("expected OutcomeTestFailed, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
	if !resetCalled {
		t.Error("expected a rollback reset after the test suite rejected the resolved merge")
	}
}
