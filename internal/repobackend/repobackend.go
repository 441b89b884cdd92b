// Package repobackend wraps internal/git.Runner with the primitives the
// worktree manager and merge validator need: exclusive per-repository-path
// locking, a default operation deadline, and classified errors instead of
// bare git-command failures. Grounded on the teacher's
// internal/orchestrator/merge_executor.go (context-deadline-wrapped git
// operations) and internal/merge/handler.go (the Runner-wrapping idiom).
package repobackend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/buildforge/conduct/internal/errs"
	"github.com/buildforge/conduct/internal/git"
)

// DefaultTimeout is the deadline applied to a repo operation when the
// caller's context carries none.
const DefaultTimeout = 60 * time.Second

// Backend serializes git operations against a single repository checkout
// and classifies failures per spec.md §7's RepoError taxonomy.
type Backend struct {
	repoPath string
	runner   git.Runner
	timeout  time.Duration

	mu sync.Mutex
}

// New creates a Backend for the repository at repoPath using a real git
// subprocess runner.
func New(repoPath string) *Backend {
	return NewWithRunner(repoPath, git.NewRunner(repoPath))
}

// NewWithRunner creates a Backend using a caller-supplied git.Runner, for
// testing against a fake.
func NewWithRunner(repoPath string, runner git.Runner) *Backend {
	return &Backend{repoPath: repoPath, runner: runner, timeout: DefaultTimeout}
}

// SetTimeout overrides the default per-operation deadline.
func (b *Backend) SetTimeout(d time.Duration) {
	b.timeout = d
}

// RepoPath returns the repository path this backend operates on.
func (b *Backend) RepoPath() string { return b.repoPath }

// Runner exposes the underlying git.Runner for callers that need a
// primitive this wrapper doesn't expose directly (e.g. worktree creation).
func (b *Backend) Runner() git.Runner { return b.runner }

// withLock runs fn while holding the backend's exclusive lock and enforcing
// ctx's deadline (or b.timeout if ctx carries none). Any caller-supplied
// deadline that has already elapsed is reported as errs.RepoTimeout before
// fn runs at all.
func (b *Backend) withLock(ctx context.Context, op string, fn func() error) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	b.mu.Lock()

	go func() {
		done <- fn()
		b.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		// fn is still running against the repo; the goroutine above still
		// owns the lock and will release it once fn returns, so the next
		// caller never starts before this one actually stops touching the
		// working tree.
		return errs.NewRepoError(errs.RepoTimeout, op, ctx.Err())
	case err := <-done:
		if err != nil {
			return classify(op, err)
		}
		return nil
	}
}

// classify wraps a raw git.Runner error into a RepoError. It has no way to
// distinguish git's specific failure modes from CombinedOutput text alone
// beyond what the caller already knows, so most failures classify as IO;
// callers that can tell conflict from I/O failure (e.g. DryMerge) classify
// explicitly instead of calling this. An error fn already classified as a
// RepoError (e.g. Merge's conflict) passes through unchanged.
func classify(op string, err error) error {
	var re *errs.RepoError
	if errors.As(err, &re) {
		return err
	}
	return errs.NewRepoError(errs.RepoIO, op, err)
}

// DryMergeResult reports whether a merge would apply cleanly without
// actually committing it.
type DryMergeResult struct {
	Clean         bool
	ConflictFiles []string
}

// DryMerge checks whether branch would merge into the current branch
// without conflicts, per spec.md §4.B: it performs a no-commit merge
// attempt and unconditionally aborts it afterward, leaving the working
// tree exactly as it found it regardless of outcome.
func (b *Backend) DryMerge(ctx context.Context, branch string) (DryMergeResult, error) {
	var result DryMergeResult

	err := b.withLock(ctx, "dry_merge", func() error {
		_, mergeErr := b.runner.Run("merge", "--no-commit", "--no-ff", branch)

		conflicted, confErr := b.runner.ConflictedFiles()
		abortErr := b.runner.MergeAbort()

		if mergeErr == nil {
			result = DryMergeResult{Clean: true}
			return abortErr
		}

		if confErr != nil {
			return fmt.Errorf("dry merge failed and conflict detection failed: %w", confErr)
		}

		if len(conflicted) > 0 {
			result = DryMergeResult{Clean: false, ConflictFiles: conflicted}
			return nil
		}

		// merge failed but left no conflicted files: something other than a
		// textual conflict went wrong (missing branch, dirty tree, etc.).
		return errs.NewRepoError(errs.RepoConflict, "dry_merge", mergeErr)
	})

	return result, err
}

// HasUncommittedChanges reports whether the working tree has local
// modifications that a caller must commit or stash before switching
// branches.
func (b *Backend) HasUncommittedChanges(ctx context.Context) (bool, error) {
	var has bool
	err := b.withLock(ctx, "status", func() error {
		h, statusErr := b.runner.HasChanges()
		has = h
		return statusErr
	})
	return has, err
}

// CommitAll stages every tracked change and commits it with message.
func (b *Backend) CommitAll(ctx context.Context, message string) error {
	return b.withLock(ctx, "commit_all", func() error {
		if err := b.runner.Add("."); err != nil {
			return err
		}
		return b.runner.Commit(message)
	})
}

// CheckoutBranch switches the working tree to branch.
func (b *Backend) CheckoutBranch(ctx context.Context, branch string) error {
	return b.withLock(ctx, "checkout", func() error {
		return b.runner.CheckoutBranch(branch)
	})
}

// MergeResult reports the outcome of a real (non-dry) merge attempt.
type MergeResult struct {
	Clean         bool
	ConflictFiles []string
	CommitSHA     string
}

// Merge performs a real merge of branch into the current branch, using a
// squash merge when squash is true and a regular --no-ff merge otherwise,
// per spec.md §4.D's two merge strategies.
func (b *Backend) Merge(ctx context.Context, branch, message string, squash bool) (MergeResult, error) {
	var result MergeResult

	err := b.withLock(ctx, "merge", func() error {
		var mergeErr error
		if squash {
			_, mergeErr = b.runner.Run("merge", "--squash", branch)
			if mergeErr == nil {
				mergeErr = b.runner.Commit(message)
			}
		} else {
			mergeErr = b.runner.MergeNoFFMessage(branch, message)
		}

		if mergeErr == nil {
			sha, shaErr := b.runner.Run("rev-parse", "HEAD")
			if shaErr != nil {
				return shaErr
			}
			result = MergeResult{Clean: true, CommitSHA: sha}
			return nil
		}

		conflicted, confErr := b.runner.ConflictedFiles()
		if confErr == nil && len(conflicted) > 0 {
			result = MergeResult{Clean: false, ConflictFiles: conflicted}
			_ = b.runner.MergeAbort()
			return errs.NewRepoError(errs.RepoConflict, "merge", mergeErr)
		}

		return mergeErr
	})

	return result, err
}

// DeleteBranch removes branch, force-deleting it regardless of merge state.
func (b *Backend) DeleteBranch(ctx context.Context, branch string) error {
	return b.withLock(ctx, "delete_branch", func() error {
		return b.runner.DeleteBranch(branch)
	})
}
