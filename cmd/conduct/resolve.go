package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildforge/conduct/internal/eventbus"
	"github.com/buildforge/conduct/internal/merge"
	"github.com/buildforge/conduct/pkg/models"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <epic-id>",
	Short: "Interactively resolve a conflicted epic's merge",
	Long: `Loads the worktree for a conflicted epic and retries the merge into
main: first a format-aware smart merge for critical package-manager files,
then, for whatever is left, an interactive terminal prompt per conflicting
file (accept session, accept agent, skip the agent, or abort).

Only meaningful for an epic whose worktree status is "conflict", which
"conduct run" sets when MergeValidator's dry-merge finds one. Succeeds by
marking the worktree merged and cleaning it up like a normal merge; a
skipped or aborted resolution leaves the worktree in "conflict" for a later
retry.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	epicID := args[0]

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	wt, err := e.store.WorktreeByEpic(e.projectID, epicID)
	if err != nil {
		return fmt.Errorf("look up worktree for epic %s: %w", epicID, err)
	}
	if wt.Status != models.WorktreeConflict {
		return fmt.Errorf("epic %s's worktree is %s, not conflict", epicID, wt.Status)
	}

	e.merger.SetResolver(merge.NewTerminalResolver())

	outcome := e.merger.ResolveConflict(cmd.Context(), wt, "main")
	switch outcome.Kind {
	case merge.OutcomeClean:
		if err := e.store.MarkWorktreeMerged(wt.ID, outcome.CommitSHA); err != nil {
			return fmt.Errorf("mark worktree merged: %w", err)
		}
		if err := e.worktrees.CleanupWorktree(cmd.Context(), wt); err != nil {
			return fmt.Errorf("cleanup worktree: %w", err)
		}
		if err := e.store.DeleteWorktree(wt.ID); err != nil {
			return fmt.Errorf("delete worktree row: %w", err)
		}
		e.bus.Publish(eventbus.Event{Type: eventbus.EventWorktreeMerged, ProjectID: e.projectID, Timestamp: time.Now(), Payload: wt})
		fmt.Printf("Resolved and merged epic %s (%s)\n", epicID, outcome.CommitSHA)
	case merge.OutcomeTestFailed:
		fmt.Printf("Resolved merge for epic %s, but the test suite failed; rolled back:\n%s\n", epicID, outcome.TestOutput)
	case merge.OutcomeConflict:
		fmt.Printf("Epic %s is still conflicted: %v\n", epicID, outcome.ConflictFiles)
		if outcome.Err != nil {
			fmt.Println(outcome.Err)
		}
	case merge.OutcomeValidatorErr:
		return fmt.Errorf("resolve epic %s: %w", epicID, outcome.Err)
	}

	return nil
}
