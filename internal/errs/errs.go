// Package errs defines the classified error kinds the core raises, per the
// taxonomy in spec.md §7. Merge outcomes (clean/conflict/test_failed) are
// expected results, not errors, and are modeled as return values in
// package merge instead of here.
package errs

import (
	"errors"
	"fmt"
)

// PlanErrorKind classifies a failure surfaced by the dependency resolver.
type PlanErrorKind string

const (
	// PlanCycle means the resolver found a circular dependency; fatal for
	// the whole run.
	PlanCycle PlanErrorKind = "cycle"
	// PlanMissingDependency means a declared dependency target does not
	// exist; non-fatal, recorded in the plan's diagnostics.
	PlanMissingDependency PlanErrorKind = "missing_dependency"
)

// PlanError wraps a plan-stage failure.
type PlanError struct {
	Kind PlanErrorKind
	Msg  string
}

func (e *PlanError) Error() string { return fmt.Sprintf("plan error (%s): %s", e.Kind, e.Msg) }

// NewPlanError constructs a PlanError of the given kind.
func NewPlanError(kind PlanErrorKind, msg string) *PlanError {
	return &PlanError{Kind: kind, Msg: msg}
}

// RepoErrorKind classifies a failure from a RepoBackend primitive.
type RepoErrorKind string

const (
	RepoTimeout  RepoErrorKind = "timeout"
	RepoConflict RepoErrorKind = "conflict"
	RepoMissing  RepoErrorKind = "missing"
	RepoIO       RepoErrorKind = "io"
	RepoBusy     RepoErrorKind = "busy"
)

// RepoError wraps a RepoBackend primitive failure.
type RepoError struct {
	Kind RepoErrorKind
	Op   string
	Err  error
}

func (e *RepoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("repo error (%s) during %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("repo error (%s) during %s", e.Kind, e.Op)
}

func (e *RepoError) Unwrap() error { return e.Err }

// NewRepoError constructs a RepoError of the given kind.
func NewRepoError(kind RepoErrorKind, op string, err error) *RepoError {
	return &RepoError{Kind: kind, Op: op, Err: err}
}

// IsRepoErrorKind reports whether err is a *RepoError of the given kind.
func IsRepoErrorKind(err error, kind RepoErrorKind) bool {
	var re *RepoError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// AgentErrorKind classifies a failure encountered while running a task
// through the AgentRunner.
type AgentErrorKind string

const (
	// AgentCancelled means the task was cancelled via the executor's
	// cancellation signal, not a failure.
	AgentCancelled AgentErrorKind = "cancelled"
	// AgentFailure means the agent runner or an internal exception failed
	// the task.
	AgentFailure AgentErrorKind = "agent_failure"
	// AgentInvariantViolation means the store rejected a state transition
	// because it would break an invariant (e.g. done=true with failing tests).
	AgentInvariantViolation AgentErrorKind = "invariant_violation"
)

// AgentError wraps a task-execution failure.
type AgentError struct {
	Kind AgentErrorKind
	Msg  string
	Err  error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent error (%s): %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("agent error (%s): %s", e.Kind, e.Msg)
}

func (e *AgentError) Unwrap() error { return e.Err }

// NewAgentError constructs an AgentError of the given kind.
func NewAgentError(kind AgentErrorKind, msg string, err error) *AgentError {
	return &AgentError{Kind: kind, Msg: msg, Err: err}
}

// ErrBudgetExhausted is returned by the model selector when no tier's
// estimated cost fits the remaining budget. The batch continues; only the
// task that triggered it fails.
var ErrBudgetExhausted = errors.New("budget_exhausted")

// ErrInvariantViolation is returned by store adapters when a write would
// break one of the invariants in spec.md §3 (e.g. marking a task done while
// it has a failing test record).
var ErrInvariantViolation = errors.New("invariant_violation")
