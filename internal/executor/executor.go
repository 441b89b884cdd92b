// Package executor implements the ParallelExecutor (Component G): the
// top-level driver that consumes a resolved plan and orchestrates the
// worktree manager, merge validator, model selector, expertise store, and
// agent runner under a global concurrency cap, per spec.md §4.E and §5.
// Grounded on internal/orchestrator/scheduler.go's Scheduler (running-map
// bookkeeping under a mutex, OnAgentStart/OnAgentComplete idiom) and
// internal/orchestrator/orchestrator.go's runLoop (batch-at-a-time driving
// of a scheduler), generalized from the teacher's single flat pool of
// agents racing against a dependency graph to spec.md's epic-serial,
// batch-parallel model: one epic-worker goroutine per epic, fanned out
// with golang.org/x/sync/errgroup, bounded by a golang.org/x/sync/semaphore
// sized to the global concurrency cap instead of the teacher's
// slice-length comparison against maxAgents.
package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/buildforge/conduct/internal/agentrunner"
	"github.com/buildforge/conduct/internal/eventbus"
	"github.com/buildforge/conduct/internal/expertise"
	"github.com/buildforge/conduct/internal/logging"
	"github.com/buildforge/conduct/internal/merge"
	"github.com/buildforge/conduct/internal/selector"
	"github.com/buildforge/conduct/internal/store"
	"github.com/buildforge/conduct/internal/worktree"
	"github.com/buildforge/conduct/pkg/models"
)

// defaultMaxConcurrency is the cap applied when Config.MaxConcurrency is
// unset, per spec.md §6's parallel.max_concurrency default.
const defaultMaxConcurrency = 3

// Config holds the executor's tunables, mirroring spec.md §6's
// parallel.* and repo.* configuration keys.
type Config struct {
	// MaxConcurrency bounds the number of tasks simultaneously inside an
	// AgentRunner call, across every epic-worker. Default 3, range 1..10.
	MaxConcurrency int
	// MainBranch is the branch epics merge back into.
	MainBranch string
	// PerTaskTimeout bounds a single agent call, per spec.md §6's
	// agent.per_task_timeout. Zero means no timeout beyond ctx's own.
	PerTaskTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.MainBranch == "" {
		c.MainBranch = "main"
	}
	return c
}

// Summary is execute_project()'s return value, per spec.md §4.E.
type Summary struct {
	TotalBatches     int
	CompletedBatches int
	TotalTasks       int
	CompletedTasks   int
	FailedTasks      int
	TotalDuration    time.Duration
	TotalCost        float64
}

// EpicOutcome records how one epic's batch slice ended, including its
// merge result if a merge was attempted.
type EpicOutcome struct {
	EpicID       string
	AllSucceeded bool
	MergeOutcome *merge.Outcome
}

// BatchResult is execute_batch()'s return value.
type BatchResult struct {
	BatchNumber  int
	Succeeded    []string
	Failed       []string
	Cancelled    []string
	Cost         float64
	EpicOutcomes map[string]EpicOutcome
}

// Snapshot is status()'s return value: the active agents and the current
// concurrency cap.
type Snapshot struct {
	Active         []models.RunningAgent
	MaxConcurrency int
}

// Executor is the ParallelExecutor. Construct with New; the zero value is
// not usable.
type Executor struct {
	cfg Config

	store     *store.Store
	expertise *expertise.Store
	worktrees *worktree.Manager
	merger    *merge.Validator
	selector  *selector.Selector
	runner    agentrunner.AgentRunner
	bus       *eventbus.Bus
	logger    *logging.Logger

	sem *semaphore.Weighted

	mu        sync.RWMutex
	running   map[string]*models.RunningAgent // keyed by task ID
	cancelled bool

	// expertiseMu serializes the load-learn-save cycle for an ExpertiseFile
	// across concurrently running epic-workers. spec.md §5 specifies the
	// mutex is per (project, domain); expertise.Store's own db-level mutex
	// already serializes the individual Get/Save calls, so a single mutex
	// here only needs to additionally make the Get...LearnFromSession...Save
	// sequence atomic as a whole, which one mutex does at the cost of
	// serializing distinct domains against each other too - an acceptable
	// simplification since expertise updates are small and infrequent
	// relative to agent calls.
	expertiseMu sync.Mutex

	// epicDomain remembers the last domain classified for each epic, for
	// expertise.Classify's tie-break rule.
	epicDomainMu sync.Mutex
	epicDomain   map[string]models.Domain
}

// New constructs an Executor wired against its collaborators.
func New(
	cfg Config,
	st *store.Store,
	ex *expertise.Store,
	wt *worktree.Manager,
	mv *merge.Validator,
	sel *selector.Selector,
	runner agentrunner.AgentRunner,
	bus *eventbus.Bus,
	logger *logging.Logger,
) *Executor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{
		cfg:        cfg,
		store:      st,
		expertise:  ex,
		worktrees:  wt,
		merger:     mv,
		selector:   sel,
		runner:     runner,
		bus:        bus,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		running:    make(map[string]*models.RunningAgent),
		epicDomain: make(map[string]models.Domain),
	}
}

// Cancel idempotently signals every in-flight agent and stops further
// scheduling, per spec.md §4.E's cancel() contract.
func (e *Executor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled {
		return
	}
	e.cancelled = true
	for _, agent := range e.running {
		if agent.Cancel != nil {
			agent.Cancel()
		}
	}
}

func (e *Executor) isCancelled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cancelled
}

// Status returns a snapshot of the active agents and the concurrency cap,
// per spec.md §4.E's status() contract.
func (e *Executor) Status() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	active := make([]models.RunningAgent, 0, len(e.running))
	for _, agent := range e.running {
		active = append(active, *agent)
	}
	return Snapshot{Active: active, MaxConcurrency: e.cfg.MaxConcurrency}
}

func (e *Executor) registerRunning(agent *models.RunningAgent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running[agent.TaskID] = agent
}

func (e *Executor) unregisterRunning(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, taskID)
}

func (e *Executor) lastDomain(epicID string) models.Domain {
	e.epicDomainMu.Lock()
	defer e.epicDomainMu.Unlock()
	return e.epicDomain[epicID]
}

func (e *Executor) rememberDomain(epicID string, domain models.Domain) {
	e.epicDomainMu.Lock()
	defer e.epicDomainMu.Unlock()
	e.epicDomain[epicID] = domain
}

func (e *Executor) publish(ctx context.Context, eventType eventbus.EventType, projectID string, payload interface{}) {
	e.bus.Publish(eventbus.Event{
		Type:      eventType,
		ProjectID: projectID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
