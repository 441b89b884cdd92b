// Package worktree manages per-epic git worktree lifecycles: creation with
// a deterministic, collision-free branch name, merge-back into the project
// branch, cleanup, and startup reconciliation against what git itself
// reports. Grounded on the teacher's internal/agent/worktree.go
// (WorktreeManager: mutex-guarded create/remove/list/prune, porcelain
// parsing, orphan detection) and
// _examples/AbdelazizMoustafa10m-Raven/internal/pipeline/branch.go (the
// slugify + template branch-naming idiom), generalized here from per-agent
// worktrees to per-epic worktrees per spec.md §4.C.
package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/buildforge/conduct/internal/errs"
	"github.com/buildforge/conduct/internal/git"
	"github.com/buildforge/conduct/pkg/models"
)

// maxBranchNameBytes is the cap spec.md §4.C places on a generated branch
// name before truncation kicks in.
const maxBranchNameBytes = 200

var nonAlphanumRE = regexp.MustCompile(`[^a-z0-9]+`)

// Manager handles the creation, merge, and teardown of per-epic worktrees.
type Manager struct {
	baseDir  string
	repoPath string
	git      git.Runner

	mu sync.Mutex
	// usedBranches tracks names already handed out this run, to disambiguate
	// a second epic whose slug would otherwise collide (e.g. two epics both
	// named "Fix bug").
	usedBranches map[string]bool
}

// New creates a Manager whose worktrees live under baseDir and whose main
// checkout is at repoPath. baseDir is created if it does not exist.
func New(baseDir, repoPath string) (*Manager, error) {
	return NewWithRunner(baseDir, repoPath, git.NewRunner(repoPath))
}

// NewWithRunner creates a Manager with a caller-supplied git.Runner, for
// testing against a fake.
func NewWithRunner(baseDir, repoPath string, runner git.Runner) (*Manager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "conduct", "worktrees")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}
	return &Manager{
		baseDir:      baseDir,
		repoPath:     repoPath,
		git:          runner,
		usedBranches: make(map[string]bool),
	}, nil
}

// BaseDir returns the directory under which worktrees are created.
func (m *Manager) BaseDir() string { return m.baseDir }

// RepoPath returns the path to the main repository checkout.
func (m *Manager) RepoPath() string { return m.repoPath }

// BranchName computes the deterministic branch name for an epic:
// "epic/{id}-{slug(name)}", capped at maxBranchNameBytes, with a numeric
// suffix appended if that name was already handed out this run.
func (m *Manager) BranchName(epic *models.Epic) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.branchNameLocked(epic)
}

func (m *Manager) branchNameLocked(epic *models.Epic) string {
	base := fmt.Sprintf("epic/%s-%s", epic.ID, slugify(epic.Name))
	if len(base) > maxBranchNameBytes {
		base = base[:maxBranchNameBytes]
	}

	name := base
	for suffix := 2; m.usedBranches[name]; suffix++ {
		candidate := fmt.Sprintf("%s-%d", base, suffix)
		if len(candidate) > maxBranchNameBytes {
			// Trim base further so the disambiguating suffix still fits.
			trim := len(candidate) - maxBranchNameBytes
			candidate = fmt.Sprintf("%s-%d", base[:len(base)-trim], suffix)
		}
		name = candidate
	}
	m.usedBranches[name] = true
	return name
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumRE.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// CreateWorktree creates (or, if one already exists for this epic, reuses)
// a worktree branched from baseBranch. Idempotent: calling it twice for the
// same epic ID returns the existing worktree rather than erroring.
func (m *Manager) CreateWorktree(ctx context.Context, projectID string, epic *models.Epic, baseBranch string) (*models.Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A directory at the epic's unsuffixed branch path is this epic's
	// existing worktree; only hand out a fresh branch name when there is none.
	branch := fmt.Sprintf("epic/%s-%s", epic.ID, slugify(epic.Name))
	if len(branch) > maxBranchNameBytes {
		branch = branch[:maxBranchNameBytes]
	}
	path := filepath.Join(m.baseDir, sanitizePathSegment(branch))
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		branch = m.branchNameLocked(epic)
		path = filepath.Join(m.baseDir, sanitizePathSegment(branch))
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return &models.Worktree{
			ID:        epic.ID,
			ProjectID: projectID,
			EpicID:    epic.ID,
			Branch:    branch,
			Path:      path,
			Status:    models.WorktreeActive,
			CreatedAt: time.Now(),
		}, nil
	}

	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return nil, errs.NewRepoError(errs.RepoIO, "branch_exists", err)
	}

	if exists {
		if err := m.git.WorktreeAdd(path, branch); err != nil {
			return nil, errs.NewRepoError(errs.RepoIO, "worktree_add", err)
		}
	} else {
		if baseBranch != "" {
			if _, err := m.git.Run("checkout", baseBranch); err != nil {
				return nil, errs.NewRepoError(errs.RepoIO, "checkout_base", err)
			}
		}
		if err := m.git.WorktreeAddNewBranch(path, branch); err != nil {
			return nil, errs.NewRepoError(errs.RepoIO, "worktree_add_new_branch", err)
		}
	}

	return &models.Worktree{
		ID:        epic.ID,
		ProjectID: projectID,
		EpicID:    epic.ID,
		Branch:    branch,
		Path:      path,
		Status:    models.WorktreeActive,
		CreatedAt: time.Now(),
	}, nil
}

// CleanupWorktree removes a worktree's directory and git registration. It is
// safe to call on a worktree that was already removed.
func (m *Manager) CleanupWorktree(ctx context.Context, wt *models.Worktree) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = m.git.WorktreeUnlock(wt.Path)
	if err := m.git.WorktreeRemoveOptionalForce(wt.Path, true); err != nil {
		if rmErr := os.RemoveAll(wt.Path); rmErr != nil {
			return errs.NewRepoError(errs.RepoIO, "cleanup_worktree", rmErr)
		}
	}
	return m.git.WorktreePruneExpireNow()
}

// parsedWorktree mirrors one "git worktree list --porcelain" entry.
type parsedWorktree struct {
	Path   string
	Branch string
}

// listWorktrees parses "git worktree list --porcelain" into structured
// entries, grounded on the teacher's line-oriented scanner.
func (m *Manager) listWorktrees() ([]parsedWorktree, error) {
	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, errs.NewRepoError(errs.RepoIO, "worktree_list", err)
	}

	var out []parsedWorktree
	var cur *parsedWorktree
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
		case strings.HasPrefix(line, "worktree "):
			cur = &parsedWorktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch ") && cur != nil:
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out, nil
}

// RecoverState reconciles a set of worktree records the store believes are
// active against what git itself reports. A record whose directory is gone
// is marked Stale; a directory git doesn't know about and that matches the
// epic/ branch pattern but has no corresponding record is removed outright,
// per spec.md §4.C's startup-reconciliation requirement.
func (m *Manager) RecoverState(ctx context.Context, known []*models.Worktree) (reconciled []*models.Worktree, orphansRemoved []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pruneErr := m.git.WorktreePruneExpireNow(); pruneErr != nil {
		return nil, nil, errs.NewRepoError(errs.RepoIO, "prune", pruneErr)
	}

	actual, listErr := m.listWorktrees()
	if listErr != nil {
		return nil, nil, listErr
	}
	actualByPath := make(map[string]parsedWorktree, len(actual))
	for _, wt := range actual {
		actualByPath[wt.Path] = wt
	}

	for _, wt := range known {
		rec := *wt
		if _, ok := actualByPath[wt.Path]; !ok {
			rec.Status = models.WorktreeStale
		}
		reconciled = append(reconciled, &rec)
	}

	knownPaths := make(map[string]bool, len(known))
	for _, wt := range known {
		knownPaths[wt.Path] = true
	}

	entries, readErr := os.ReadDir(m.baseDir)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return reconciled, nil, nil
		}
		return nil, nil, fmt.Errorf("read worktree base directory: %w", readErr)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.baseDir, entry.Name())
		if knownPaths[path] {
			continue
		}
		if _, known := actualByPath[path]; known {
			// git still tracks it and the store has no record: treat as
			// orphaned conduct state, not an orphaned git worktree.
			continue
		}
		_ = m.git.WorktreeUnlock(path)
		if rmErr := m.git.WorktreeRemove(path); rmErr != nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				continue
			}
		}
		orphansRemoved = append(orphansRemoved, path)
	}

	return reconciled, orphansRemoved, nil
}

func sanitizePathSegment(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}
