package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildforge/conduct/internal/graph"
)

var planMermaid bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Resolve the dependency graph and print the batch plan",
	Long: `Loads every pending task and epic, resolves them into batches without
executing anything, and prints the result as an ASCII tree (default) or
a Mermaid flowchart (--mermaid).`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planMermaid, "mermaid", false, "Print as a Mermaid flowchart instead of ASCII")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	tasks, err := e.store.ListPending(e.projectID)
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}
	epics, err := e.store.ListEpics(e.projectID)
	if err != nil {
		return fmt.Errorf("list epics: %w", err)
	}

	plan := graph.NewResolver().Resolve(tasks, epics)

	if planMermaid {
		fmt.Print(graph.ToMermaid(plan))
		return nil
	}
	fmt.Print(graph.ToASCII(plan))
	if plan.HasCycle() {
		return fmt.Errorf("plan has a circular dependency")
	}
	return nil
}
