package store

import (
	"fmt"

	"github.com/buildforge/conduct/pkg/models"
)

// RecordCost appends a cost record, per spec.md §6's
// record(project, session, task, model, in_tokens, out_tokens, operation_type).
func (s *Store) RecordCost(c models.CostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO cost_records
		(project_id, session_id, task_id, model, input_tokens, output_tokens, cost, operation_type, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ProjectID, c.SessionID, c.TaskID, c.Model, c.InputTokens, c.OutputTokens, c.Cost, c.OperationType, c.At)
	if err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

// ModelCostSummary aggregates recorded cost by model.
type ModelCostSummary struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
	TotalCost    float64
	Count        int
}

// CostByModel aggregates cost records for projectID grouped by model.
func (s *Store) CostByModel(projectID string) ([]ModelCostSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT model, SUM(input_tokens), SUM(output_tokens), SUM(cost), COUNT(*)
		FROM cost_records WHERE project_id = ? GROUP BY model`, projectID)
	if err != nil {
		return nil, fmt.Errorf("cost by model: %w", err)
	}
	defer rows.Close()

	var out []ModelCostSummary
	for rows.Next() {
		var m ModelCostSummary
		if err := rows.Scan(&m.Model, &m.InputTokens, &m.OutputTokens, &m.TotalCost, &m.Count); err != nil {
			return nil, fmt.Errorf("scan cost summary: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TaskTypeCostSummary aggregates recorded cost by operation type.
type TaskTypeCostSummary struct {
	OperationType string
	TotalCost     float64
	Count         int
}

// CostByTaskType aggregates cost records for projectID grouped by
// operation_type.
func (s *Store) CostByTaskType(projectID string) ([]TaskTypeCostSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT operation_type, SUM(cost), COUNT(*)
		FROM cost_records WHERE project_id = ? GROUP BY operation_type`, projectID)
	if err != nil {
		return nil, fmt.Errorf("cost by task type: %w", err)
	}
	defer rows.Close()

	var out []TaskTypeCostSummary
	for rows.Next() {
		var t TaskTypeCostSummary
		if err := rows.Scan(&t.OperationType, &t.TotalCost, &t.Count); err != nil {
			return nil, fmt.Errorf("scan task type summary: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
