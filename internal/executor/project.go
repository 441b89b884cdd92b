package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/buildforge/conduct/internal/errs"
	"github.com/buildforge/conduct/internal/eventbus"
	"github.com/buildforge/conduct/internal/graph"
	"github.com/buildforge/conduct/pkg/models"
)

// ExecuteProject runs the full pipeline for projectID: resolve the pending
// tasks and epics into a plan, persist it, then drive each batch in order,
// per spec.md §4.E's execute_project() contract. Batch k+1 never starts
// before batch k has either completed or the executor has been cancelled.
func (e *Executor) ExecuteProject(ctx context.Context, projectID string) (Summary, error) {
	start := time.Now()

	tasks, err := e.store.ListPending(projectID)
	if err != nil {
		return Summary{}, fmt.Errorf("execute project: list pending tasks: %w", err)
	}
	epics, err := e.store.ListEpics(projectID)
	if err != nil {
		return Summary{}, fmt.Errorf("execute project: list epics: %w", err)
	}

	plan := graph.NewResolver().Resolve(tasks, epics)
	if plan.HasCycle() {
		planErr := errs.NewPlanError(errs.PlanCycle, fmt.Sprintf("%v", plan.CircularDeps))
		e.publish(ctx, eventbus.EventPlanError, projectID, planErr)
		return Summary{}, planErr
	}

	if planJSON, err := json.Marshal(plan); err == nil {
		if err := e.store.SaveExecutionPlan(projectID, string(planJSON)); err != nil {
			e.logger.Log("execute project: save execution plan: %v", err)
		}
	}

	taskByID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		taskByID[t.ID] = t
	}
	epicByID := make(map[string]*models.Epic, len(epics))
	for _, ep := range epics {
		epicByID[ep.ID] = ep
	}

	summary := Summary{TotalBatches: len(plan.Batches), TotalTasks: len(tasks)}

	for batchNumber, taskIDs := range plan.Batches {
		if e.isCancelled() || ctx.Err() != nil {
			break
		}

		result, err := e.ExecuteBatch(ctx, projectID, batchNumber, taskIDs, taskByID, epicByID)
		if err != nil {
			summary.TotalDuration = time.Since(start)
			return summary, fmt.Errorf("execute project: batch %d: %w", batchNumber, err)
		}

		summary.CompletedBatches++
		summary.CompletedTasks += len(result.Succeeded)
		summary.FailedTasks += len(result.Failed) + len(result.Cancelled)
		summary.TotalCost += result.Cost
	}

	summary.TotalDuration = time.Since(start)
	e.publish(ctx, eventbus.EventBatchComplete, projectID, summary)
	return summary, nil
}
