package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/buildforge/conduct/internal/executor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Resolve and execute a project's pending work",
	Long: `Loads every pending task and epic for the project, resolves them into
a batched execution plan, then drives the ParallelExecutor: one
epic-worker per epic, tasks within an epic strictly in priority order,
bounded across the whole project by parallel.max_concurrency.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, cancelling in-flight agents...")
		e.exec.Cancel()
		cancel()
	}()

	summary, err := e.exec.ExecuteProject(ctx, e.projectID)
	printSummary(summary)
	if err != nil {
		return fmt.Errorf("execute project: %w", err)
	}
	if summary.FailedTasks > 0 {
		os.Exit(1)
	}
	return nil
}

func printSummary(s executor.Summary) {
	fmt.Println()
	fmt.Printf("Batches: %d/%d completed\n", s.CompletedBatches, s.TotalBatches)
	fmt.Printf("Tasks:   %s / %d total\n", color.GreenString("%d done", s.CompletedTasks), s.TotalTasks)
	if s.FailedTasks > 0 {
		fmt.Printf("         %s\n", color.RedString("%d failed or cancelled", s.FailedTasks))
	}
	fmt.Printf("Cost:    $%.4f\n", s.TotalCost)
	fmt.Printf("Elapsed: %s\n", s.TotalDuration.Round(time.Millisecond))
}
