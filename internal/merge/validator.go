package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/buildforge/conduct/internal/repobackend"
	"github.com/buildforge/conduct/pkg/models"
)

// OutcomeKind classifies how a merge attempt ended. Unlike the classified
// errors in internal/errs, a conflict or a failing test suite is an
// expected result of merge validation, not a failure of the validator
// itself — spec.md §4.D models it as a tagged return value so callers
// branch on Outcome.Kind rather than on error type.
type OutcomeKind string

const (
	OutcomeClean       OutcomeKind = "clean"
	OutcomeConflict    OutcomeKind = "conflict"
	OutcomeTestFailed  OutcomeKind = "test_failed"
	OutcomeValidatorErr OutcomeKind = "validator_error"
)

// Outcome is the result of running a Validator pipeline against one
// worktree.
type Outcome struct {
	Kind          OutcomeKind
	ConflictFiles []string
	CommitSHA     string
	TestOutput    string
	Err           error
}

// TestRunner runs a project's test suite against the currently checked out
// tree and reports whether it passed, with captured output for diagnostics.
type TestRunner interface {
	RunTests(ctx context.Context, repoPath string) (passed bool, output string, err error)
}

// NoTestRunner is a TestRunner that always reports success, used when a
// project has no configured test command.
type NoTestRunner struct{}

func (NoTestRunner) RunTests(ctx context.Context, repoPath string) (bool, string, error) {
	return true, "", nil
}

// Validator runs the full merge-validation pipeline for a worktree's
// branch, per spec.md §4.D: commit any uncommitted agent changes, switch
// to the project's main branch, dry-merge to detect conflicts early,
// perform the real merge (regular or squash), optionally run the test
// suite against the merged result, and report a tagged Outcome. It never
// leaves the repository mid-merge: every path either lands on a clean
// merge commit or aborts back to the pre-merge state.
type Validator struct {
	backend *repobackend.Backend
	tests   TestRunner
	squash  bool

	// newWorktreeBackend builds the backend used for operations inside the
	// agent's worktree checkout (as opposed to the main repo checkout
	// v.backend targets). Defaults to a real git subprocess runner rooted
	// at the worktree path; overridable in tests.
	newWorktreeBackend func(path string) *repobackend.Backend

	// resolver is consulted by ResolveConflict once a critical-file smart
	// merge can't resolve everything. Defaults to NoOpResolver, so a
	// headless run degrades to reporting the same conflict Validate would.
	resolver HumanMergeResolver
}

// New creates a Validator for the repository backend, using runner to
// gate merges on the project's test suite (pass NoTestRunner{} to skip
// gating), and squash to choose squash-vs-regular merges.
func New(backend *repobackend.Backend, runner TestRunner, squash bool) *Validator {
	if runner == nil {
		runner = NoTestRunner{}
	}
	return &Validator{
		backend: backend,
		tests:   runner,
		squash:  squash,
		newWorktreeBackend: func(path string) *repobackend.Backend {
			return repobackend.New(path)
		},
		resolver: &NoOpResolver{},
	}
}

// SetWorktreeBackendFactory overrides how the validator builds a backend
// for an agent's worktree checkout, for testing against a fake git.Runner.
func (v *Validator) SetWorktreeBackendFactory(factory func(path string) *repobackend.Backend) {
	v.newWorktreeBackend = factory
}

// SetResolver overrides the HumanMergeResolver ResolveConflict falls back to
// once a critical-file smart merge can't resolve every conflicting file.
// The zero Validator otherwise uses NoOpResolver (always errors), matching
// headless/CI runs; a CLI command driving an interactive session should
// install a TerminalResolver here.
func (v *Validator) SetResolver(resolver HumanMergeResolver) {
	if resolver == nil {
		resolver = &NoOpResolver{}
	}
	v.resolver = resolver
}

// Validate runs the pipeline for wt against the given main branch name.
func (v *Validator) Validate(ctx context.Context, wt *models.Worktree, mainBranch string) Outcome {
	worktreeBackend := v.newWorktreeBackend(wt.Path)

	uncommitted, err := worktreeBackend.HasUncommittedChanges(ctx)
	if err != nil {
		return Outcome{Kind: OutcomeValidatorErr, Err: err}
	}
	if uncommitted {
		if err := worktreeBackend.CommitAll(ctx, fmt.Sprintf("checkpoint: %s", wt.Branch)); err != nil {
			return Outcome{Kind: OutcomeValidatorErr, Err: err}
		}
	}

	if err := v.backend.CheckoutBranch(ctx, mainBranch); err != nil {
		return Outcome{Kind: OutcomeValidatorErr, Err: err}
	}

	dryResult, err := v.backend.DryMerge(ctx, wt.Branch)
	if err != nil {
		return Outcome{Kind: OutcomeValidatorErr, Err: err}
	}
	if !dryResult.Clean {
		return Outcome{Kind: OutcomeConflict, ConflictFiles: dryResult.ConflictFiles}
	}

	message := fmt.Sprintf("merge %s into %s", wt.Branch, mainBranch)
	mergeResult, err := v.backend.Merge(ctx, wt.Branch, message, v.squash)
	if err != nil {
		if mergeResult.ConflictFiles != nil {
			return Outcome{Kind: OutcomeConflict, ConflictFiles: mergeResult.ConflictFiles}
		}
		return Outcome{Kind: OutcomeValidatorErr, Err: err}
	}

	passed, output, testErr := v.tests.RunTests(ctx, v.backend.RepoPath())
	if testErr != nil {
		return Outcome{Kind: OutcomeValidatorErr, Err: testErr}
	}
	if !passed {
		// Drop the merge (or squash) commit so main is back at its pre-merge state.
		if _, err := v.backend.Runner().Run("reset", "--hard", "HEAD~1"); err != nil {
			return Outcome{Kind: OutcomeValidatorErr, Err: fmt.Errorf("revert merge after test failure: %w", err)}
		}
		return Outcome{Kind: OutcomeTestFailed, TestOutput: output, CommitSHA: mergeResult.CommitSHA}
	}

	return Outcome{Kind: OutcomeClean, CommitSHA: mergeResult.CommitSHA, TestOutput: output}
}

// TimeoutTestRunner wraps a TestRunner with a hard deadline, grounded on
// the teacher's MergeProcessorConfig.SemanticMergeTimeout pattern.
type TimeoutTestRunner struct {
	Inner   TestRunner
	Timeout time.Duration
}

func (t TimeoutTestRunner) RunTests(ctx context.Context, repoPath string) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	type result struct {
		passed bool
		output string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		passed, output, err := t.Inner.RunTests(ctx, repoPath)
		done <- result{passed, output, err}
	}()

	select {
	case <-ctx.Done():
		return false, "", ctx.Err()
	case r := <-done:
		return r.passed, r.output, r.err
	}
}
