package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/buildforge/conduct/pkg/models"
)

// ExpertisePointer is the denormalized (project, domain, version) record
// the executor consults to decide whether an ExpertiseFile needs
// reloading, without owning the content itself (internal/expertise does).
type ExpertisePointer struct {
	ProjectID string
	Domain    models.Domain
	Version   int
	UpdatedAt *time.Time
}

// GetExpertisePointer returns the current version pointer for
// (projectID, domain), or a zero-version pointer if none exists yet.
func (s *Store) GetExpertisePointer(projectID string, domain models.Domain) (ExpertisePointer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT version, updated_at FROM expertise_pointers WHERE project_id = ? AND domain = ?`,
		projectID, string(domain))
	var version int
	var updatedAt sql.NullTime
	err := row.Scan(&version, &updatedAt)
	if err == sql.ErrNoRows {
		return ExpertisePointer{ProjectID: projectID, Domain: domain}, nil
	}
	if err != nil {
		return ExpertisePointer{}, fmt.Errorf("get expertise pointer: %w", err)
	}
	return ExpertisePointer{ProjectID: projectID, Domain: domain, Version: version, UpdatedAt: timePtr(updatedAt)}, nil
}

// UpsertExpertisePointer bumps the (project, domain) pointer to version,
// per spec.md §6's upsert(project, domain, content) operation (version
// increment tracking; content itself lives in internal/expertise.Store).
func (s *Store) UpsertExpertisePointer(projectID string, domain models.Domain, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO expertise_pointers (project_id, domain, version, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(project_id, domain) DO UPDATE SET
			version = excluded.version, updated_at = excluded.updated_at
	`, projectID, string(domain), version)
	if err != nil {
		return fmt.Errorf("upsert expertise pointer: %w", err)
	}
	return nil
}

// RecordExpertiseUpdate appends an audit entry for an expertise change,
// per spec.md §6's record_update(expertise_id, session, kind, summary, diff).
func (s *Store) RecordExpertiseUpdate(expertiseID, sessionID, kind, summary, diff string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO expertise_updates (expertise_id, session_id, kind, summary, diff, at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`, expertiseID, sessionID, kind, summary, diff)
	if err != nil {
		return fmt.Errorf("record expertise update: %w", err)
	}
	return nil
}

// SaveExecutionPlan persists the resolved plan for projectID as JSON, per
// spec.md §6's save(project, plan_json).
func (s *Store) SaveExecutionPlan(projectID, planJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO execution_plans (project_id, plan_json, saved_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(project_id) DO UPDATE SET plan_json = excluded.plan_json, saved_at = excluded.saved_at
	`, projectID, planJSON)
	if err != nil {
		return fmt.Errorf("save execution plan: %w", err)
	}
	return nil
}

// GetExecutionPlan returns the last saved plan JSON for projectID, if any.
func (s *Store) GetExecutionPlan(projectID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var planJSON string
	row := s.db.QueryRow("SELECT plan_json FROM execution_plans WHERE project_id = ?", projectID)
	if err := row.Scan(&planJSON); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("execution plan for %s: %w", projectID, sql.ErrNoRows)
		}
		return "", fmt.Errorf("get execution plan: %w", err)
	}
	return planJSON, nil
}
