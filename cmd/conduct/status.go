package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the executor's live snapshot",
	Long: `Prints the configured concurrency cap and the active agents (task,
epic, model, and how long each has been running) of this process's
executor.

The snapshot is held in memory and is not shared between processes: the
executor this command constructs has started no tasks, so it reports zero
active agents even while "conduct run" is active in another process.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	snap := e.exec.Status()
	fmt.Printf("Concurrency cap: %d\n", snap.MaxConcurrency)
	if len(snap.Active) == 0 {
		fmt.Println("Active agents:   none")
		return nil
	}

	fmt.Printf("Active agents:   %d\n", len(snap.Active))
	for _, agent := range snap.Active {
		fmt.Printf("  %s  epic=%s  model=%s  running %s\n",
			agent.TaskID, agent.EpicID, agent.Model, time.Since(agent.StartedAt).Round(time.Second))
	}
	return nil
}
