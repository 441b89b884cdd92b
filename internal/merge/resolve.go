package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/buildforge/conduct/internal/git"
	"github.com/buildforge/conduct/pkg/models"
)

// ResolveConflict is the "resolve" half of a worktree's
// conflict → {merged, stale} transition (spec.md §3's Worktree state
// machine). Validate never attempts it automatically — per spec.md §4.D
// step 3, a dry-merge conflict is reported and main is left untouched — so
// an operator (or a later batch, once the blocking epic's work changes)
// calls ResolveConflict against the same epic to try again.
//
// The attempt order mirrors handler.go's own fallback chain: a format-aware
// smart merge for critical package-manager files first
// (MergeWithSmartFallback), then, for whatever it can't resolve, the
// configured HumanMergeResolver (NoOpResolver by default, so a headless run
// degrades to the same OutcomeConflict Validate would have reported;
// SetResolver to a TerminalResolver for an interactive session). Main is
// checkpointed before either attempt runs, and rolled back if the test
// suite rejects the result.
func (v *Validator) ResolveConflict(ctx context.Context, wt *models.Worktree, mainBranch string) Outcome {
	runner := v.backend.Runner()
	checkpoints := NewCheckpointManager(mainBranch, runner)
	if err := checkpoints.CreateCheckpoint(wt.EpicID, wt.Branch); err != nil {
		return Outcome{Kind: OutcomeValidatorErr, Err: fmt.Errorf("checkpoint main before conflict resolution: %w", err)}
	}
	rollback := NewRollbackManager(runner, checkpoints)

	handler := NewHandlerWithRunner(mainBranch, v.backend.RepoPath(), runner)
	result, _ := handler.MergeWithSmartFallback(wt.Branch)

	switch {
	case !result.Success && !result.NeedsSemanticMerge:
		checkpoints.MarkBad(wt.EpicID)
		return Outcome{Kind: OutcomeValidatorErr, Err: result.Error}

	case !result.Success:
		outcome, resolved := v.presentAndResolve(ctx, wt, mainBranch, result.ConflictFiles, runner)
		if !resolved {
			checkpoints.MarkBad(wt.EpicID)
			return outcome
		}
	}

	sha, err := runner.Run("rev-parse", "HEAD")
	if err != nil {
		checkpoints.MarkBad(wt.EpicID)
		return Outcome{Kind: OutcomeValidatorErr, Err: fmt.Errorf("resolve conflict: read merge commit: %w", err)}
	}
	return v.gateResolvedMerge(ctx, sha, wt.EpicID, checkpoints, rollback)
}

// presentAndResolve hands the remaining conflicts to the configured
// HumanMergeResolver and, for a strategy that picks a side outright, retries
// the merge with the matching git merge strategy option. It reports
// (outcome, false) for any strategy that leaves the conflict unresolved.
func (v *Validator) presentAndResolve(ctx context.Context, wt *models.Worktree, mainBranch string, conflictFiles []string, runner git.Runner) (Outcome, bool) {
	resolver := v.resolver
	if resolver == nil {
		resolver = &NoOpResolver{}
	}

	presenter := NewConflictPresenter(v.backend.RepoPath(), v.backend.Runner())
	presentations, err := presenter.AnalyzeMultipleConflicts(ctx, conflictFiles, mainBranch, wt.Branch, wt.ID, wt.EpicID, 1)
	if err != nil {
		return Outcome{Kind: OutcomeConflict, ConflictFiles: conflictFiles}, false
	}

	resolution, err := resolver.PresentMultipleConflicts(ctx, presentations)
	if err != nil {
		return Outcome{Kind: OutcomeConflict, ConflictFiles: conflictFiles}, false
	}

	switch resolution.Strategy {
	case AcceptSession, AcceptAgent:
		strategy := "ours"
		if resolution.Strategy == AcceptAgent {
			strategy = "theirs"
		}
		message := fmt.Sprintf("merge %s into %s (resolved via %s)", wt.Branch, mainBranch, resolution.Strategy)
		if _, err := runner.Run("merge", "--no-ff", "-X", strategy, "-m", message, wt.Branch); err != nil {
			_ = runner.MergeAbort()
			return Outcome{Kind: OutcomeValidatorErr, Err: fmt.Errorf("merge -X %s: %w", strategy, err)}, false
		}
		return Outcome{}, true

	case SkipAgent:
		return Outcome{Kind: OutcomeConflict, ConflictFiles: conflictFiles}, false

	case AbortSession:
		return Outcome{Kind: OutcomeConflict, ConflictFiles: conflictFiles, Err: errors.New("conflict resolution aborted by operator")}, false

	default:
		return Outcome{Kind: OutcomeValidatorErr, Err: fmt.Errorf("resolution strategy %s not supported", resolution.Strategy)}, false
	}
}

// gateResolvedMerge runs the configured test suite against a merge commit
// that ResolveConflict just produced, rolling main back to its pre-attempt
// checkpoint if the suite rejects it — the same abort-then-revert contract
// Validate applies to its own merge, per spec.md §4.D step 5.
func (v *Validator) gateResolvedMerge(ctx context.Context, commitSHA, agentID string, checkpoints *CheckpointManager, rollback *RollbackManager) Outcome {
	passed, output, err := v.tests.RunTests(ctx, v.backend.RepoPath())
	if err != nil {
		checkpoints.MarkBad(agentID)
		return Outcome{Kind: OutcomeValidatorErr, Err: err}
	}
	if !passed {
		checkpoints.MarkBad(agentID)
		if _, rbErr := rollback.RollbackToCheckpoint(agentID, true); rbErr != nil {
			return Outcome{Kind: OutcomeValidatorErr, Err: fmt.Errorf("rollback after test failure: %w", rbErr)}
		}
		return Outcome{Kind: OutcomeTestFailed, TestOutput: output}
	}

	checkpoints.MarkGood(agentID)
	_ = checkpoints.DeleteCheckpoint(agentID)
	return Outcome{Kind: OutcomeClean, CommitSHA: commitSHA, TestOutput: output}
}
