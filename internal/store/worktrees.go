package store

import (
	"database/sql"
	"fmt"

	"github.com/buildforge/conduct/pkg/models"
)

// CreateWorktree inserts a new worktree row.
func (s *Store) CreateWorktree(projectID string, wt *models.Worktree) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO worktrees (id, project_id, epic_id, branch, path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		wt.ID, projectID, wt.EpicID, wt.Branch, wt.Path, string(wt.Status), wt.CreatedAt)
	if err != nil {
		return fmt.Errorf("create worktree: %w", err)
	}
	return nil
}

// WorktreeByEpic returns the worktree for (projectID, epicID), if one exists.
func (s *Store) WorktreeByEpic(projectID, epicID string) (*models.Worktree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT id, branch, path, status, created_at, merged_at, merge_commit
		FROM worktrees WHERE project_id = ? AND epic_id = ?`, projectID, epicID)
	return scanWorktree(row, projectID, epicID)
}

// ListWorktrees returns every worktree belonging to projectID.
func (s *Store) ListWorktrees(projectID string) ([]*models.Worktree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, epic_id, branch, path, status, created_at, merged_at, merge_commit
		FROM worktrees WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	defer rows.Close()

	var out []*models.Worktree
	for rows.Next() {
		var wt models.Worktree
		var status string
		var mergedAt sql.NullTime
		var mergeCommit sql.NullString
		wt.ProjectID = projectID
		if err := rows.Scan(&wt.ID, &wt.EpicID, &wt.Branch, &wt.Path, &status, &wt.CreatedAt, &mergedAt, &mergeCommit); err != nil {
			return nil, fmt.Errorf("scan worktree: %w", err)
		}
		wt.Status = models.WorktreeStatus(status)
		wt.MergedAt = timePtr(mergedAt)
		wt.MergeCommit = mergeCommit.String
		out = append(out, &wt)
	}
	return out, rows.Err()
}

func scanWorktree(row *sql.Row, projectID, epicID string) (*models.Worktree, error) {
	var wt models.Worktree
	wt.ProjectID = projectID
	wt.EpicID = epicID
	var status string
	var mergedAt sql.NullTime
	var mergeCommit sql.NullString
	err := row.Scan(&wt.ID, &wt.Branch, &wt.Path, &status, &wt.CreatedAt, &mergedAt, &mergeCommit)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("worktree for epic %s: %w", epicID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("scan worktree: %w", err)
	}
	wt.Status = models.WorktreeStatus(status)
	wt.MergedAt = timePtr(mergedAt)
	wt.MergeCommit = mergeCommit.String
	return &wt, nil
}

// SetWorktreeStatus updates a worktree's status.
func (s *Store) SetWorktreeStatus(id string, status models.WorktreeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("UPDATE worktrees SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("set worktree status: %w", err)
	}
	return nil
}

// MarkWorktreeMerged records a successful merge for a worktree.
func (s *Store) MarkWorktreeMerged(id, commit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE worktrees SET status = ?, merged_at = CURRENT_TIMESTAMP, merge_commit = ? WHERE id = ?`,
		string(models.WorktreeMerged), commit, id)
	if err != nil {
		return fmt.Errorf("mark worktree merged: %w", err)
	}
	return nil
}

// DeleteWorktree removes a worktree row.
func (s *Store) DeleteWorktree(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM worktrees WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete worktree: %w", err)
	}
	return nil
}
