package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "conduct",
	Short: "Dependency-aware parallel agent build orchestrator",
	Long: `conduct resolves a project's epics and tasks into a batched execution
plan, then drives parallel AI agents through isolated git worktrees,
merging each epic back once every task in its batch succeeds.

Available commands:
  run      Resolve and execute a project's pending work
  plan     Resolve only; print the batch plan
  status   Show the live executor snapshot
  resume   Reconcile worktree state, then run
  resolve  Interactively resolve a conflicted epic's merge

Use "conduct [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("project", "", "Project ID (default: repository directory name)")
	rootCmd.PersistentFlags().String("config", "", "Path to a project config file (default: .conduct.yaml)")
}

func main() {
	Execute()
}
