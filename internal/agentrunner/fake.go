package agentrunner

import (
	"context"
	"time"

	"github.com/buildforge/conduct/internal/expertise"
	"github.com/buildforge/conduct/pkg/models"
)

// Fake is an in-memory AgentRunner for tests, grounded on the teacher's
// e2e/mocks fakes for git.Runner and friends. Scripted by queuing results
// in order; Run pops one per call.
type Fake struct {
	Results []*RunResult
	Errs    []error
	Calls   []FakeCall
}

// FakeCall records one invocation for assertions.
type FakeCall struct {
	Task *models.Task
	Opts RunOptions
}

var _ AgentRunner = (*Fake)(nil)

// Run pops the next scripted result/error pair. If the queue is empty it
// returns a trivially successful RunResult.
func (f *Fake) Run(ctx context.Context, task *models.Task, opts RunOptions) (*RunResult, error) {
	f.Calls = append(f.Calls, FakeCall{Task: task, Opts: opts})

	if len(f.Results) == 0 {
		return &RunResult{Success: true, FinishedAt: time.Now()}, nil
	}

	result := f.Results[0]
	f.Results = f.Results[1:]

	var err error
	if len(f.Errs) > 0 {
		err = f.Errs[0]
		f.Errs = f.Errs[1:]
	}
	return result, err
}

// NewSuccess builds a scripted successful result with the given tool uses
// and final message, for LearnFromSession-oriented test fixtures.
func NewSuccess(finalMessage string, uses ...expertise.ToolUse) *RunResult {
	return &RunResult{
		Success: true, Output: finalMessage, ToolUses: uses, FinishedAt: time.Now(),
	}
}

// NewFailure builds a scripted failed result carrying a FailureLearning.
func NewFailure(issue, errMsg string, uses ...expertise.ToolUse) *RunResult {
	return &RunResult{
		Success:  false,
		ToolUses: uses,
		Failure:  &models.FailureLearning{Issue: issue, Error: errMsg, At: time.Now()},
		FinishedAt: time.Now(),
	}
}
