package store

import (
	"database/sql"
	"fmt"

	"github.com/buildforge/conduct/internal/errs"
	"github.com/buildforge/conduct/pkg/models"
)

// CreateTask inserts a new task row.
func (s *Store) CreateTask(projectID string, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, project_id, epic_id, priority, description, action,
			depends_on, done, status, blocked_reason, predicted_files, lines_estimate, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, projectID, t.EpicID, t.Priority, t.Description, t.Action,
		marshalDeps(t.DependsOn), t.Done, string(t.Status), t.BlockedReason,
		marshalStrings(t.PredictedFiles), t.LinesEstimate, t.Error)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// ListPending returns every task in the project whose status is pending,
// per spec.md §6's list_pending(project) operation.
func (s *Store) ListPending(projectID string) ([]*models.Task, error) {
	return s.listTasksByStatus(projectID, models.TaskStatusPending)
}

// ListTasks returns every task belonging to projectID.
func (s *Store) ListTasks(projectID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, epic_id, priority, description, action,
		depends_on, done, status, blocked_reason, predicted_files, lines_estimate, error
		FROM tasks WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *Store) listTasksByStatus(projectID string, status models.TaskStatus) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, epic_id, priority, description, action,
		depends_on, done, status, blocked_reason, predicted_files, lines_estimate, error
		FROM tasks WHERE project_id = ? AND status = ?`, projectID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var out []*models.Task
	for rows.Next() {
		var t models.Task
		var dependsOn, predictedFiles string
		var status string
		var blockedReason, taskErr sql.NullString
		if err := rows.Scan(&t.ID, &t.EpicID, &t.Priority, &t.Description, &t.Action,
			&dependsOn, &t.Done, &status, &blockedReason, &predictedFiles, &t.LinesEstimate, &taskErr); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.DependsOn = unmarshalDeps(dependsOn)
		t.Status = models.TaskStatus(status)
		t.BlockedReason = blockedReason.String
		t.PredictedFiles = unmarshalStrings(predictedFiles)
		t.Error = taskErr.String
		out = append(out, &t)
	}
	return out, rows.Err()
}

// GetWithTests returns a task along with whether its latest test run
// passed, per spec.md §6's get_with_tests(id) operation. Tests-pass state
// is tracked in the tasks.tests_pass column, set by the merge pipeline
// after running the test gate.
func (s *Store) GetWithTests(id string) (task *models.Task, testsPass bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT id, epic_id, priority, description, action,
		depends_on, done, status, blocked_reason, predicted_files, lines_estimate, error, tests_pass
		FROM tasks WHERE id = ?`, id)

	var t models.Task
	var dependsOn, predictedFiles, status string
	var blockedReason, taskErr sql.NullString
	var testsPassInt int
	scanErr := row.Scan(&t.ID, &t.EpicID, &t.Priority, &t.Description, &t.Action,
		&dependsOn, &t.Done, &status, &blockedReason, &predictedFiles, &t.LinesEstimate, &taskErr, &testsPassInt)
	if scanErr == sql.ErrNoRows {
		return nil, false, fmt.Errorf("task %s: %w", id, sql.ErrNoRows)
	}
	if scanErr != nil {
		return nil, false, fmt.Errorf("get task with tests: %w", scanErr)
	}
	t.DependsOn = unmarshalDeps(dependsOn)
	t.Status = models.TaskStatus(status)
	t.BlockedReason = blockedReason.String
	t.PredictedFiles = unmarshalStrings(predictedFiles)
	t.Error = taskErr.String
	return &t, testsPassInt != 0, nil
}

// SetTestsPass records the outcome of a task's test run, consumed by
// UpdateDoneSafe's invariant check.
func (s *Store) SetTestsPass(id string, pass bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("UPDATE tasks SET tests_pass = ? WHERE id = ?", pass, id)
	if err != nil {
		return fmt.Errorf("set tests pass: %w", err)
	}
	return nil
}

// UpdateDoneSafe marks a task done within one transaction: it locks the
// row, verifies tests_pass is set, then updates done=true and
// status=TaskStatusDone. If the tests haven't passed it returns
// errs.ErrInvariantViolation and leaves the row untouched, implementing
// spec.md §3's invariant 4 and §6's update_done_safe(id, done) operation.
// Grounded on internal/state's single-connection *sql.DB (SetMaxOpenConns(1)
// serializes writers) combined with an explicit transaction, since
// modernc.org/sqlite has no portable row-lock primitive beyond serializing
// all writers through one connection.
func (s *Store) UpdateDoneSafe(id string, done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("update done safe: begin: %w", err)
	}

	var testsPassInt int
	row := tx.QueryRow("SELECT tests_pass FROM tasks WHERE id = ?", id)
	if err := row.Scan(&testsPassInt); err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return fmt.Errorf("update done safe: task %s: %w", id, sql.ErrNoRows)
		}
		return fmt.Errorf("update done safe: %w", err)
	}

	if done && testsPassInt == 0 {
		tx.Rollback()
		return errs.ErrInvariantViolation
	}

	status := models.TaskStatusDone
	if !done {
		status = models.TaskStatusInProgress
	}
	if _, err := tx.Exec("UPDATE tasks SET done = ?, status = ? WHERE id = ?", done, string(status), id); err != nil {
		tx.Rollback()
		return fmt.Errorf("update done safe: %w", err)
	}

	return tx.Commit()
}

// CreateEpic inserts a new epic row.
func (s *Store) CreateEpic(projectID string, e *models.Epic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO epics (id, project_id, name, priority, depends_on)
		VALUES (?, ?, ?, ?, ?)`, e.ID, projectID, e.Name, e.Priority, marshalStrings(e.DependsOn))
	if err != nil {
		return fmt.Errorf("create epic: %w", err)
	}
	return nil
}

// ListEpics returns every epic belonging to projectID.
func (s *Store) ListEpics(projectID string) ([]*models.Epic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, name, priority, depends_on FROM epics WHERE project_id = ?", projectID)
	if err != nil {
		return nil, fmt.Errorf("list epics: %w", err)
	}
	defer rows.Close()

	var out []*models.Epic
	for rows.Next() {
		var e models.Epic
		var dependsOn string
		if err := rows.Scan(&e.ID, &e.Name, &e.Priority, &dependsOn); err != nil {
			return nil, fmt.Errorf("scan epic: %w", err)
		}
		e.DependsOn = unmarshalStrings(dependsOn)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetEpic returns a single epic by ID.
func (s *Store) GetEpic(id string) (*models.Epic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e models.Epic
	var dependsOn string
	row := s.db.QueryRow("SELECT id, name, priority, depends_on FROM epics WHERE id = ?", id)
	if err := row.Scan(&e.ID, &e.Name, &e.Priority, &dependsOn); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("epic %s: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("get epic: %w", err)
	}
	e.DependsOn = unmarshalStrings(dependsOn)
	return &e, nil
}
