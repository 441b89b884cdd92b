package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/buildforge/conduct/internal/agentrunner"
	"github.com/buildforge/conduct/internal/eventbus"
	"github.com/buildforge/conduct/internal/expertise"
	"github.com/buildforge/conduct/internal/merge"
	"github.com/buildforge/conduct/internal/selector"
	"github.com/buildforge/conduct/pkg/models"
)

// ExecuteBatch runs one layer of the plan: it partitions task_ids by epic,
// creates (or reuses) a worktree per epic, then runs one epic-worker per
// epic concurrently, each pulling its tasks in priority order behind the
// executor's global semaphore. After every epic-worker returns, epics
// whose tasks all succeeded are merged; epics with any failure keep their
// worktree active for resume. Implements spec.md §4.E's per-batch
// algorithm.
func (e *Executor) ExecuteBatch(
	ctx context.Context,
	projectID string,
	batchNumber int,
	taskIDs []string,
	taskByID map[string]*models.Task,
	epicByID map[string]*models.Epic,
) (*BatchResult, error) {
	batch, err := e.store.CreateBatch(projectID, batchNumber, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("execute batch %d: create batch: %w", batchNumber, err)
	}

	startedAt := time.Now()
	if err := e.store.SetBatchStatus(batch.ID, models.BatchStatusRunning, &startedAt, nil); err != nil {
		e.logger.Log("execute batch %d: set status running: %v", batchNumber, err)
	}
	e.publish(ctx, eventbus.EventBatchStart, projectID, batch)

	byEpic := make(map[string][]*models.Task)
	for _, id := range taskIDs {
		task := taskByID[id]
		if task == nil {
			continue
		}
		byEpic[task.EpicID] = append(byEpic[task.EpicID], task)
	}

	result := &BatchResult{BatchNumber: batchNumber, EpicOutcomes: make(map[string]EpicOutcome)}
	wtByEpic := make(map[string]*models.Worktree)

	for epicID, tasks := range byEpic {
		epic := epicByID[epicID]
		wt, err := e.ensureWorktree(ctx, projectID, epic)
		if err != nil {
			// Worktree creation failure is fatal for this epic's tasks in
			// this batch only, per spec.md §7's propagation policy: other
			// epics proceed unaffected.
			e.logger.Log("execute batch %d: epic %s: create worktree: %v", batchNumber, epicID, err)
			for _, t := range tasks {
				result.Failed = append(result.Failed, t.ID)
			}
			delete(byEpic, epicID)
			continue
		}
		wtByEpic[epicID] = wt
		e.publish(ctx, eventbus.EventWorktreeCreated, projectID, wt)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for epicID, tasks := range byEpic {
		epicID := epicID
		epic := epicByID[epicID]
		wt := wtByEpic[epicID]
		ordered := append([]*models.Task(nil), tasks...)
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].Priority != ordered[j].Priority {
				return ordered[i].Priority < ordered[j].Priority
			}
			return ordered[i].ID < ordered[j].ID
		})

		g.Go(func() error {
			allSucceeded := true

			for _, task := range ordered {
				if e.isCancelled() || gctx.Err() != nil {
					task.Status = models.TaskStatusCancelled
					mu.Lock()
					result.Cancelled = append(result.Cancelled, task.ID)
					mu.Unlock()
					allSucceeded = false
					continue
				}

				if err := e.sem.Acquire(gctx, 1); err != nil {
					mu.Lock()
					result.Cancelled = append(result.Cancelled, task.ID)
					mu.Unlock()
					allSucceeded = false
					continue
				}

				success, cost := e.runTask(ctx, projectID, task, epic, wt)
				e.sem.Release(1)

				mu.Lock()
				result.Cost += cost
				if success {
					result.Succeeded = append(result.Succeeded, task.ID)
				} else {
					result.Failed = append(result.Failed, task.ID)
					allSucceeded = false
				}
				mu.Unlock()
			}

			mu.Lock()
			result.EpicOutcomes[epicID] = EpicOutcome{EpicID: epicID, AllSucceeded: allSucceeded}
			mu.Unlock()
			// Per-task errors are confined to the task (spec.md §7); the
			// epic-worker never fails the errgroup over one bad task.
			return nil
		})
	}

	_ = g.Wait()

	if !e.isCancelled() {
		for epicID, outcome := range result.EpicOutcomes {
			if !outcome.AllSucceeded {
				continue
			}
			wt := wtByEpic[epicID]
			mergeOutcome := e.mergeEpic(ctx, projectID, wt)
			outcome.MergeOutcome = &mergeOutcome
			result.EpicOutcomes[epicID] = outcome
		}
	}

	completedAt := time.Now()
	status := models.BatchStatusCompleted
	if e.isCancelled() {
		status = models.BatchStatusCancelled
	}
	if err := e.store.SetBatchStatus(batch.ID, status, &startedAt, &completedAt); err != nil {
		e.logger.Log("execute batch %d: set status %s: %v", batchNumber, status, err)
	}
	e.publish(ctx, eventbus.EventBatchComplete, projectID, result)

	return result, nil
}

// ensureWorktree creates the epic's worktree via the worktree manager
// (idempotent at the filesystem/branch level) and persists the store row
// the first time it is seen for (projectID, epic.ID).
func (e *Executor) ensureWorktree(ctx context.Context, projectID string, epic *models.Epic) (*models.Worktree, error) {
	wt, err := e.worktrees.CreateWorktree(ctx, projectID, epic, e.cfg.MainBranch)
	if err != nil {
		return nil, err
	}

	_, err = e.store.WorktreeByEpic(projectID, epic.ID)
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		if err := e.store.CreateWorktree(projectID, wt); err != nil {
			return nil, fmt.Errorf("persist worktree row: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("look up worktree row: %w", err)
	}

	return wt, nil
}

// mergeEpic runs the merge pipeline for an epic whose batch tasks all
// succeeded and reconciles the store and worktree manager with the
// outcome, per spec.md §4.D.
func (e *Executor) mergeEpic(ctx context.Context, projectID string, wt *models.Worktree) merge.Outcome {
	outcome := e.merger.Validate(ctx, wt, e.cfg.MainBranch)

	switch outcome.Kind {
	case merge.OutcomeClean:
		if err := e.store.MarkWorktreeMerged(wt.ID, outcome.CommitSHA); err != nil {
			e.logger.Log("merge epic %s: mark merged: %v", wt.EpicID, err)
		}
		if err := e.worktrees.CleanupWorktree(ctx, wt); err != nil {
			e.logger.Log("merge epic %s: cleanup worktree: %v", wt.EpicID, err)
		}
		if err := e.store.DeleteWorktree(wt.ID); err != nil {
			e.logger.Log("merge epic %s: delete worktree row: %v", wt.EpicID, err)
		}
		e.publish(ctx, eventbus.EventWorktreeMerged, projectID, wt)
	case merge.OutcomeConflict:
		if err := e.store.SetWorktreeStatus(wt.ID, models.WorktreeConflict); err != nil {
			e.logger.Log("merge epic %s: set conflict status: %v", wt.EpicID, err)
		}
		e.publish(ctx, eventbus.EventWorktreeConflict, projectID, outcome)
	case merge.OutcomeTestFailed, merge.OutcomeValidatorErr:
		// The worktree stays active; spec.md §4.D: "the worktree's status
		// becomes merged only after tests pass". Resume picks it back up.
		e.logger.Log("merge epic %s: %s: %s", wt.EpicID, outcome.Kind, outcome.TestOutput)
	}

	return outcome
}

// runTask executes one task: load expertise, select a model, register a
// RunningAgent, invoke the AgentRunner, record cost, feed the session log
// back into expertise, emit task_complete, and, on success, mark the task
// done in the store (a failed or cancelled status is set on the in-memory
// task only). Implements spec.md §4.E step 3 (i)-(viii).
func (e *Executor) runTask(ctx context.Context, projectID string, task *models.Task, epic *models.Epic, wt *models.Worktree) (success bool, cost float64) {
	e.publish(ctx, eventbus.EventTaskStart, projectID, task)

	domain := expertise.Classify(task, e.lastDomain(task.EpicID))
	e.rememberDomain(task.EpicID, domain)

	ef, err := e.expertise.Get(projectID, domain)
	if err != nil {
		e.logger.Log("task %s: load expertise: %v", task.ID, err)
		ef = &models.ExpertiseFile{ProjectID: projectID, Domain: domain}
	}
	expertiseBlock := expertise.FormatForPrompt(ef)

	decision, err := e.selector.Select(task, epic)
	if err != nil {
		task.Status = models.TaskStatusFailed
		task.Error = err.Error()
		e.publish(ctx, eventbus.EventBudgetWarning, projectID, task)
		e.publish(ctx, eventbus.EventTaskComplete, projectID, task)
		return false, 0
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.PerTaskTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.PerTaskTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	agent := &models.RunningAgent{
		TaskID: task.ID, EpicID: task.EpicID, WorktreePath: wt.Path,
		Model: string(decision.Tier), StartedAt: time.Now(), Cancel: cancel,
	}
	e.registerRunning(agent)
	defer e.unregisterRunning(task.ID)
	defer cancel()

	sessionID := uuid.NewString()
	runResult, runErr := e.runner.Run(runCtx, task, agentrunner.RunOptions{
		WorkDir:      wt.Path,
		SystemPrompt: buildSystemPrompt(epic, expertiseBlock),
		Tier:         decision.Tier,
		SessionID:    sessionID,
	})
	if runResult == nil {
		runResult = &agentrunner.RunResult{Success: false, FinishedAt: time.Now()}
	}

	e.selector.RecordOutcome(selector.Outcome{TaskID: task.ID, Tier: decision.Tier, Cost: runResult.Cost})

	if err := e.store.RecordCost(models.CostRecord{
		ProjectID: projectID, SessionID: sessionID, TaskID: task.ID, Model: string(decision.Tier),
		InputTokens: runResult.TokensIn, OutputTokens: runResult.TokensOut, Cost: runResult.Cost,
		OperationType: task.Action, At: runResult.FinishedAt,
	}); err != nil {
		e.logger.Log("task %s: record cost: %v", task.ID, err)
	}
	e.publish(ctx, eventbus.EventCostUpdate, projectID, runResult.Cost)

	e.learnFromResult(projectID, domain, ef, runResult, sessionID)

	switch {
	case runResult.Stopped || (runErr != nil && ctx.Err() != nil):
		task.Status = models.TaskStatusCancelled
	case runResult.Success:
		if err := e.store.SetTestsPass(task.ID, true); err != nil {
			e.logger.Log("task %s: set tests pass: %v", task.ID, err)
		}
		if err := e.store.UpdateDoneSafe(task.ID, true); err != nil {
			e.logger.Log("task %s: update done: %v", task.ID, err)
			task.Status = models.TaskStatusFailed
			task.Error = err.Error()
			success = false
		} else {
			task.Status = models.TaskStatusDone
			task.Done = true
			success = true
		}
	default:
		task.Status = models.TaskStatusFailed
		if runResult.Failure != nil {
			task.Error = runResult.Failure.Error
		} else if runErr != nil {
			task.Error = runErr.Error()
		}
	}

	e.publish(ctx, eventbus.EventTaskComplete, projectID, task)
	return success, runResult.Cost
}

// learnFromResult feeds a completed session's tool-use log and outcome
// back into the domain's expertise file, serialized against every other
// concurrently completing task (spec.md §5: writes to a given
// (project, domain) expertise file are strictly serial).
func (e *Executor) learnFromResult(projectID string, domain models.Domain, ef *models.ExpertiseFile, runResult *agentrunner.RunResult, sessionID string) {
	e.expertiseMu.Lock()
	defer e.expertiseMu.Unlock()

	sessionResult := expertise.SessionResult{
		Success: runResult.Success, FinalMessage: runResult.Output, Failure: runResult.Failure,
	}
	expertise.LearnFromSession(ef, runResult.ToolUses, sessionResult, runResult.FinishedAt, e.logger)

	if err := e.expertise.Save(ef); err != nil {
		e.logger.Log("expertise %s/%s: save: %v", projectID, domain, err)
		return
	}
	if err := e.store.UpsertExpertisePointer(projectID, domain, ef.Version); err != nil {
		e.logger.Log("expertise %s/%s: upsert pointer: %v", projectID, domain, err)
	}
	if err := e.store.RecordExpertiseUpdate(ef.ID, sessionID, "learn", "session "+sessionID, ""); err != nil {
		e.logger.Log("expertise %s/%s: record update: %v", projectID, domain, err)
	}
}

// buildSystemPrompt assembles the per-task system prompt from the epic's
// identity and the domain's formatted expertise block.
func buildSystemPrompt(epic *models.Epic, expertiseBlock string) string {
	name := "this epic"
	if epic != nil {
		name = epic.Name
	}
	prompt := fmt.Sprintf("You are implementing tasks for %s. Work only within the current worktree. "+
		"Make focused, correct changes and run any relevant tests before finishing.\n", name)
	if expertiseBlock != "" {
		prompt += "\n" + expertiseBlock
	}
	return prompt
}
