package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/buildforge/conduct/pkg/models"
)

// CreateBatch inserts a new batch row, per spec.md §6's
// create(project, number, task_ids) operation.
func (s *Store) CreateBatch(projectID string, number int, taskIDs []string) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("%s-batch-%d", projectID, number)
	_, err := s.db.Exec(`INSERT INTO batches (id, project_id, batch_number, task_ids, status)
		VALUES (?, ?, ?, ?, ?)`, id, projectID, number, marshalStrings(taskIDs), string(models.BatchStatusPending))
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return &models.Batch{ID: id, ProjectID: projectID, BatchNumber: number, TaskIDs: taskIDs, Status: models.BatchStatusPending}, nil
}

// SetBatchStatus updates a batch's status and, when transitioning into
// running or a terminal state, its timestamps.
func (s *Store) SetBatchStatus(id string, status models.BatchStatus, startedAt, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE batches SET status = ?, started_at = ?, completed_at = ? WHERE id = ?`,
		string(status), nullTime(startedAt), nullTime(completedAt), id)
	if err != nil {
		return fmt.Errorf("set batch status: %w", err)
	}
	return nil
}

// ListBatches returns every batch belonging to projectID, ordered by
// batch number.
func (s *Store) ListBatches(projectID string) ([]*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, batch_number, task_ids, status, started_at, completed_at
		FROM batches WHERE project_id = ? ORDER BY batch_number ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*models.Batch
	for rows.Next() {
		var b models.Batch
		b.ProjectID = projectID
		var taskIDs, status string
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&b.ID, &b.BatchNumber, &taskIDs, &status, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.TaskIDs = unmarshalStrings(taskIDs)
		b.Status = models.BatchStatus(status)
		b.StartedAt = timePtr(startedAt)
		b.CompletedAt = timePtr(completedAt)
		out = append(out, &b)
	}
	return out, rows.Err()
}
