package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	frameconfig "github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"
	"github.com/spf13/cobra"

	appconfig "github.com/antinvestor/conveyor/apps/pipeline/config"
	"github.com/antinvestor/conveyor/internal/artifacts"
	"github.com/antinvestor/conveyor/internal/history"
	"github.com/antinvestor/conveyor/internal/llm"
	"github.com/antinvestor/conveyor/internal/model"
	"github.com/antinvestor/conveyor/internal/pipeline"
	"github.com/antinvestor/conveyor/internal/sandbox"
	"github.com/antinvestor/conveyor/internal/workspace"
)

func main() {
	ctx := context.Background()

	root := &cobra.Command{
		Use:   "conveyor",
		Short: "Turn a requirement document into reviewed pull request records",
	}
	root.AddCommand(newRunCommand(), newHistoryCommand())

	if err := root.ExecuteContext(ctx); err != nil {
		util.Log(ctx).WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	var prdPath string
	var workspaceDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline for one requirement document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), prdPath, workspaceDir)
		},
	}

	cmd.Flags().StringVar(&prdPath, "prd", "", "path to the requirement document (JSON)")
	cmd.Flags().StringVar(&workspaceDir, "workspace", "", "override the staging workspace directory")
	_ = cmd.MarkFlagRequired("prd")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent pipeline runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listHistory(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum runs to list")
	return cmd
}

func runPipeline(ctx context.Context, prdPath, workspaceDir string) error {
	cfg, err := frameconfig.LoadWithOIDC[appconfig.PipelineConfig](ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Name() == "" {
		cfg.ServiceName = "conveyor_pipeline"
	}
	log := util.Log(ctx)

	prd, err := loadPRD(prdPath)
	if err != nil {
		return err
	}

	if workspaceDir == "" {
		workspaceDir = cfg.WorkspaceBasePath
	}
	staging, err := workspace.NewManager(workspaceDir)
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	engine, err := llm.NewMultiProviderClient(llm.ClientConfig{
		AnthropicAPIKey:   cfg.AnthropicAPIKey,
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		GoogleAPIKey:      cfg.GoogleAPIKey,
		DefaultProvider:   llm.Provider(cfg.DefaultProvider),
		DefaultModel:      llm.ModelClaudeSonnet,
		TimeoutSeconds:    cfg.EngineTimeoutSeconds,
		MaxRetries:        cfg.EngineMaxRetries,
		RequestsPerMinute: cfg.EngineRequestsPerMinute,
	})
	if err != nil {
		return fmt.Errorf("create engine client: %w", err)
	}

	runner, err := sandbox.NewRunner(ctx, sandbox.Config{
		Backend:        sandbox.BackendType(cfg.SandboxBackend),
		Language:       cfg.SandboxLanguage,
		TimeoutSeconds: cfg.SandboxTimeoutSeconds,
		Image:          cfg.SandboxImage,
		MemoryLimitMB:  cfg.SandboxMemoryLimitMB,
		NetworkEnabled: cfg.SandboxNetworkEnabled,
	})
	if err != nil {
		return fmt.Errorf("create verification runner: %w", err)
	}

	backend, err := artifacts.NewBackendWithFallback(ctx, artifacts.BackendConfig{
		Backend:  artifacts.BackendType(cfg.ArtifactBackend),
		Dir:      cfg.ArtifactDir,
		RedisURL: cfg.ArtifactRedisURL,
		TTL:      time.Duration(cfg.ArtifactTTLSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}
	defer backend.Close()

	db, err := history.OpenDatabase(ctx, cfg.HistoryDatabaseDSN)
	if err != nil {
		log.WithError(err).Warn("run history unavailable, keeping runs in memory")
	}
	runs := history.NewRunRepository(ctx, db)

	orch := pipeline.NewOrchestrator(engine, runner, staging, backend.Store, runs, pipeline.Config{
		HaltOnStageFailure: cfg.HaltOnStageFailure,
		DesignApproval:     pipeline.ApprovalMode(cfg.DesignApprovalMode),
		MaxFixAttempts:     cfg.MaxFixAttempts,
	})

	state, runErr := orch.Run(ctx, prd)
	printSummary(state, engine.GetUsage())
	if runErr != nil {
		return fmt.Errorf("pipeline run: %w", runErr)
	}
	return nil
}

func loadPRD(path string) (model.PRD, error) {
	var prd model.PRD

	data, err := os.ReadFile(path)
	if err != nil {
		return prd, fmt.Errorf("read requirement document: %w", err)
	}
	if err = json.Unmarshal(data, &prd); err != nil {
		return prd, fmt.Errorf("parse requirement document: %w", err)
	}
	if err = prd.Validate(); err != nil {
		return prd, fmt.Errorf("validate requirement document: %w", err)
	}
	return prd, nil
}

func printSummary(state *pipeline.State, usage llm.Usage) {
	fmt.Printf("\nRun %s: %s\n", state.RunID, state.Status)
	if state.LastError != "" {
		fmt.Printf("Last error: %s\n", state.LastError)
	}
	fmt.Printf("Epics: %d  Tasks: %d  PRs: %d  Approved: %d\n",
		len(state.Epics), len(state.Tasks), len(state.AllPRs), state.ApprovedCount())

	for _, pr := range state.AllPRs {
		fmt.Printf("  %-14s %-20s %s\n", pr.ID, pr.Status, pr.Title)
	}

	fmt.Printf("Engine usage: %d tokens ($%.4f)\n", usage.TotalTokens, usage.CostUSD)
}

func listHistory(ctx context.Context, limit int) error {
	cfg, err := frameconfig.LoadWithOIDC[appconfig.PipelineConfig](ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	db, err := history.OpenDatabase(ctx, cfg.HistoryDatabaseDSN)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	if db == nil {
		fmt.Println("run history requires HISTORY_DATABASE_DSN")
		return nil
	}

	runs, err := history.NewRunRepository(ctx, db).ListRecent(ctx, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	for _, run := range runs {
		fmt.Printf("%-22s %-16s epics=%d tasks=%d prs=%d approved=%d  %s\n",
			run.ID, run.Status,
			run.EpicCount, run.TaskCount, run.PRCount, run.ApprovedCount,
			run.PRDTitle)
	}
	return nil
}
