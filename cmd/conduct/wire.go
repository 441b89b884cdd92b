package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/buildforge/conduct/internal/agentrunner"
	"github.com/buildforge/conduct/internal/config"
	"github.com/buildforge/conduct/internal/eventbus"
	"github.com/buildforge/conduct/internal/executor"
	"github.com/buildforge/conduct/internal/expertise"
	"github.com/buildforge/conduct/internal/logging"
	"github.com/buildforge/conduct/internal/merge"
	"github.com/buildforge/conduct/internal/repobackend"
	"github.com/buildforge/conduct/internal/selector"
	"github.com/buildforge/conduct/internal/store"
	"github.com/buildforge/conduct/internal/worktree"
	"github.com/buildforge/conduct/pkg/models"
)

// env bundles every collaborator the engine needs, wired from a project's
// config, the same way cmd/alphie/run.go assembles its orchestrator
// dependencies before calling into internal/orchestrator.
type env struct {
	repoPath  string
	projectID string
	cfg       *config.Config

	store     *store.Store
	expertise *expertise.Store
	worktrees *worktree.Manager
	merger    *merge.Validator
	selector  *selector.Selector
	runner    agentrunner.AgentRunner
	bus       *eventbus.Bus
	logger    *logging.Logger
	exec      *executor.Executor
}

func projectStoreDir(repoPath string) string {
	return filepath.Join(repoPath, ".conduct")
}

func loadProjectConfig(cmd *cobra.Command, repoPath string) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = filepath.Join(repoPath, ".conduct.yaml")
	}
	if _, err := os.Stat(configPath); err != nil {
		return config.Default(), nil
	}
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", configPath, err)
	}
	return cfg, nil
}

func resolveProjectID(cmd *cobra.Command, repoPath string) string {
	if id, _ := cmd.Flags().GetString("project"); id != "" {
		return id
	}
	return filepath.Base(repoPath)
}

// newEnv wires every collaborator for repoPath, applying cfg's parallel.*,
// cost.*, repo.*, and agent.* sections to the concrete
// ModelSelector, WorktreeManager, MergeValidator, and Executor, per
// spec.md §6.
func newEnv(cmd *cobra.Command) (*env, error) {
	repoPath, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := loadProjectConfig(cmd, repoPath)
	if err != nil {
		return nil, err
	}
	projectID := resolveProjectID(cmd, repoPath)

	storeDir := projectStoreDir(repoPath)
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", storeDir, err)
	}

	st, err := store.Open(filepath.Join(storeDir, "conduct.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	exStore, err := expertise.Open(filepath.Join(storeDir, "expertise.db"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open expertise store: %w", err)
	}

	logger := logging.NewForProject(repoPath)
	logging.SetDefault(logger)

	worktreeDir := cfg.Repo.WorktreeDir
	if worktreeDir == "" {
		worktreeDir = ".worktrees"
	}
	if !filepath.IsAbs(worktreeDir) {
		worktreeDir = filepath.Join(repoPath, worktreeDir)
	}
	wtMgr, err := worktree.New(worktreeDir, repoPath)
	if err != nil {
		exStore.Close()
		st.Close()
		return nil, fmt.Errorf("create worktree manager: %w", err)
	}

	squash := cfg.Parallel.MergeStrategy == "squash"
	backend := repobackend.New(repoPath)
	validator := merge.New(backend, merge.NoTestRunner{}, squash)

	sel := applyCostConfig(selector.New(), cfg.Cost)

	bus := eventbus.New()

	runner, err := newRunner(cfg)
	if err != nil {
		exStore.Close()
		st.Close()
		return nil, err
	}

	execCfg := executor.Config{
		MaxConcurrency: cfg.Parallel.MaxConcurrency,
		MainBranch:     "main",
		PerTaskTimeout: cfg.Agent.PerTaskTimeout,
	}
	exec := executor.New(execCfg, st, exStore, wtMgr, validator, sel, runner, bus, logger)

	return &env{
		repoPath: repoPath, projectID: projectID, cfg: cfg,
		store: st, expertise: exStore, worktrees: wtMgr, merger: validator,
		selector: sel, runner: runner, bus: bus, logger: logger, exec: exec,
	}, nil
}

// applyCostConfig wires spec.md §6's cost.* keys into a fresh Selector.
func applyCostConfig(sel *selector.Selector, cc config.CostConfig) *selector.Selector {
	if cc.BudgetLimit != nil {
		sel.SetBudget(*cc.BudgetLimit)
	}
	if cc.ForceModel != "" {
		sel.SetForceModel(models.Tier(cc.ForceModel))
	}
	for taskType, tier := range cc.ModelOverrides {
		sel.SetTaskTypeTier(taskType, models.Tier(tier))
	}
	for priority, tier := range cc.PriorityOverrides {
		var p int
		if _, err := fmt.Sscanf(priority, "%d", &p); err == nil {
			sel.SetPriorityTier(p, models.Tier(tier))
		}
	}
	t := cc.ComplexityThresholds
	if t.HaikuMax > 0 || t.OpusMin > 0 {
		sel.SetComplexityThresholds(t.HaikuMax, t.OpusMin)
	}
	return sel
}

// newRunner constructs the concrete AgentRunner. Authentication mirrors
// cmd/alphie's api_factory.go: config.GetAPIKey's environment-then-config
// precedence (Client itself also falls back to the environment directly).
func newRunner(cfg *config.Config) (agentrunner.AgentRunner, error) {
	apiKey, _ := config.GetAPIKey(cfg)
	client, err := agentrunner.NewClient(agentrunner.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create agent client: %w", err)
	}
	return agentrunner.NewAnthropicRunner(client, false, 40), nil
}

func (e *env) close() {
	e.expertise.Close()
	e.store.Close()
	e.logger.Close()
}
