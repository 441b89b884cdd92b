package agentrunner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/buildforge/conduct/internal/expertise"
	"github.com/buildforge/conduct/internal/selector"
	"github.com/buildforge/conduct/pkg/models"
)

// AnthropicRunner is the concrete AgentRunner backing task execution with
// real Claude sessions, grounded on the teacher's internal/api.AgentLoop
// turn cycle (alternating Messages.New calls and tool execution until the
// model signals end_turn or the iteration cap is hit).
type AnthropicRunner struct {
	client        *Client
	useBedrock    bool
	maxIterations int
}

// NewAnthropicRunner builds a runner around client. maxIterations bounds
// API calls per task (0 defaults to 50, as the teacher does).
func NewAnthropicRunner(client *Client, useBedrock bool, maxIterations int) *AnthropicRunner {
	if maxIterations == 0 {
		maxIterations = 50
	}
	return &AnthropicRunner{client: client, useBedrock: useBedrock, maxIterations: maxIterations}
}

var _ AgentRunner = (*AnthropicRunner)(nil)

// Run drives one task through the agent loop: build the user prompt from
// the task, alternate model turns and tool execution in opts.WorkDir, and
// stop at end_turn, the iteration cap, or ctx cancellation.
func (r *AnthropicRunner) Run(ctx context.Context, task *models.Task, opts RunOptions) (*RunResult, error) {
	executor := newToolExecutor(opts.WorkDir)
	model := ModelForTier(opts.Tier, r.useBedrock)

	userPrompt := taskPrompt(task)
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
	}

	result := &RunResult{}
	var uses []expertise.ToolUse
	var textOutput strings.Builder

	for result.Iterations < r.maxIterations {
		result.Iterations++

		if err := ctx.Err(); err != nil {
			result.Stopped = true
			result.FinishedAt = time.Now()
			return result, fmt.Errorf("agent run cancelled: %w", err)
		}

		resp, err := r.client.sdk().Messages.New(ctx, anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: 8192,
			System:    []anthropic.TextBlockParam{{Text: opts.SystemPrompt}},
			Messages:  messages,
			Tools:     toolDefinitions(),
		})
		if err != nil {
			result.Failure = &models.FailureLearning{
				Issue: task.Description, Error: err.Error(), At: time.Now(),
			}
			result.FinishedAt = time.Now()
			return result, fmt.Errorf("agent run: api call failed: %w", err)
		}

		result.TokensIn += resp.Usage.InputTokens
		result.TokensOut += resp.Usage.OutputTokens
		r.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				textOutput.WriteString(variant.Text)
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				uses = append(uses, expertise.ToolUse{
					Tool: variant.Name, Target: toolTarget(variant.Name, variant.Input),
				})

				tr := executor.execute(ctx, variant.Name, variant.Input)
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, tr.Content, tr.IsError))
			}
		}

		if resp.StopReason == anthropic.StopReasonEndTurn {
			result.Output = textOutput.String()
			result.Success = true
			result.ToolUses = uses
			result.Cost = callCost(opts.Tier, result.TokensIn, result.TokensOut)
			result.FinishedAt = time.Now()
			return result, nil
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}
	}

	result.ToolUses = uses
	result.Output = textOutput.String()
	result.Failure = &models.FailureLearning{
		Issue: task.Description,
		Error: fmt.Sprintf("max iterations (%d) reached without end_turn", r.maxIterations),
		At:    time.Now(),
	}
	result.FinishedAt = time.Now()
	return result, fmt.Errorf("agent run: max iterations (%d) reached", r.maxIterations)
}

// callCost prices a completed run's total token usage against
// internal/selector's pricing table, so the caller can record it via
// internal/store.RecordCost without duplicating the pricing data.
func callCost(tier models.Tier, inputTokens, outputTokens int64) float64 {
	pricing, ok := selector.DefaultPricing[tier]
	if !ok {
		pricing = selector.DefaultPricing[models.TierSonnet]
	}
	return float64(inputTokens)/1_000_000*pricing.InputPerMillion +
		float64(outputTokens)/1_000_000*pricing.OutputPerMillion
}

// taskPrompt renders a task into the user-turn prompt, grounded on the
// teacher's convention of a single combined description+action string
// (internal/api.AgentLoop.Run takes a flat userPrompt).
func taskPrompt(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", task.Description)
	if task.Action != "" {
		fmt.Fprintf(&b, "Action: %s\n\n", task.Action)
	}
	if len(task.PredictedFiles) > 0 {
		fmt.Fprintf(&b, "Expected files: %s\n", strings.Join(task.PredictedFiles, ", "))
	}
	return b.String()
}
