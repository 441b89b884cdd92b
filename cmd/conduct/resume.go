package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Reconcile worktree state, then run",
	Long: `Loads the project's last-known worktrees from the store, reconciles
them against what's actually on disk (removing orphans, marking missing
worktrees stale), then runs the same resolve-and-execute flow as "run".`,
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	known, err := e.store.ListWorktrees(e.projectID)
	if err != nil {
		return fmt.Errorf("list worktrees: %w", err)
	}

	reconciled, orphansRemoved, err := e.worktrees.RecoverState(cmd.Context(), known)
	if err != nil {
		return fmt.Errorf("recover worktree state: %w", err)
	}
	for _, path := range orphansRemoved {
		fmt.Printf("Removed orphaned worktree: %s\n", path)
	}
	for _, wt := range reconciled {
		if err := e.store.SetWorktreeStatus(wt.ID, wt.Status); err != nil {
			return fmt.Errorf("save reconciled worktree %s: %w", wt.Path, err)
		}
	}

	return runRun(cmd, args)
}
