// Package agentrunner implements the concrete AgentRunner: the boundary
// between a scheduled models.Task and a real Claude session that reads,
// edits, and tests code in a worktree. Grounded on the teacher's
// internal/api package (client.go's Client/ClientConfig, loop.go's
// AgentLoop turn cycle, executor.go's ToolExecutor, tools.go's tool
// schemas), generalized from the teacher's fixed-model single-agent loop
// to a per-task model selected by internal/selector and a tool-use log
// shaped for internal/expertise.LearnFromSession.
package agentrunner

import (
	"context"
	"time"

	"github.com/buildforge/conduct/internal/expertise"
	"github.com/buildforge/conduct/pkg/models"
)

// AgentRunner executes a single task against a working directory and
// reports back a tool-use log and outcome. The ParallelExecutor calls Run
// once per ready task; implementations must honor ctx cancellation.
type AgentRunner interface {
	Run(ctx context.Context, task *models.Task, opts RunOptions) (*RunResult, error)
}

// RunOptions carries everything a task run needs beyond the task itself.
type RunOptions struct {
	// WorkDir is the epic's worktree path the agent operates in.
	WorkDir string
	// SystemPrompt is the assembled system prompt, including the
	// project's decisions log and internal/expertise.FormatForPrompt
	// output for the task's classified domain.
	SystemPrompt string
	// Tier selects which model tier to run the task with, as decided by
	// internal/selector.
	Tier models.Tier
	// SessionID identifies this run for cost-record attribution.
	SessionID string
}

// RunResult is what a completed (or failed) run leaves behind: enough for
// the caller to record cost, update task state, and feed
// internal/expertise.LearnFromSession.
type RunResult struct {
	Output       string
	Success      bool
	ToolUses     []expertise.ToolUse
	TokensIn     int64
	TokensOut    int64
	Cost         float64
	Failure      *models.FailureLearning
	Stopped      bool // true if cancelled or a stop signal fired mid-run
	Iterations   int
	FinishedAt   time.Time
}
