package main

import (
	"context"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/scoutworks/cscout/internal/fixtures"
	"github.com/scoutworks/cscout/internal/github"
	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/pipeline"
	"github.com/scoutworks/cscout/internal/runlog"
	"github.com/scoutworks/cscout/internal/scoring"
	"github.com/scoutworks/cscout/internal/storage"
	"github.com/scoutworks/cscout/internal/types"
)

var scoutRunCmd = &cobra.Command{
	Use:   "scout:run",
	Short: "Search GitHub for a topic and analyze the results (pass 1)",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")
		days, _ := cmd.Flags().GetInt("days")
		stars, _ := cmd.Flags().GetInt("stars")
		maxStars, _ := cmd.Flags().GetInt("max-stars")
		topN, _ := cmd.Flags().GetInt("top")
		lang, _ := cmd.Flags().GetString("lang")
		includeForks, _ := cmd.Flags().GetBool("include-forks")
		model, _ := cmd.Flags().GetString("model")
		dry, _ := cmd.Flags().GetBool("dry")

		if !dry {
			if err := cfg.RequireLive(); err != nil {
				return err
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		orch, err := runlog.New(cmd.Context(), store, runlog.Options{
			Args: map[string]any{
				"command": "scout:run", "query": query, "days": days,
				"stars": stars, "max_stars": maxStars, "top": topN,
				"lang": lang, "include_forks": includeForks,
				"model": model, "dry": dry,
			},
			ConfigHash: cfg.Hash(),
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		initStep, err := orch.StartStep(cmd.Context(), types.StepInitRun)
		if err != nil {
			return err
		}
		if err := initStep.Finish(cmd.Context(), types.StepSuccess, map[string]any{
			"config_hash": cfg.Hash(), "dry": dry,
		}); err != nil {
			return err
		}

		p, err := buildPipeline(store, orch, dry)
		if err != nil {
			return err
		}

		result, err := p.RunPass1(cmd.Context(), pipeline.Pass1Params{
			Query:        query,
			Days:         days,
			Stars:        stars,
			MaxStars:     maxStars,
			TopN:         topN,
			Language:     lang,
			IncludeForks: includeForks,
			Model:        model,
		})
		if result != nil {
			emitJSON(result)
		}
		return err
	},
}

var scoutExpandCmd = &cobra.Command{
	Use:   "scout:expand",
	Short: "Run the keyword-driven expansion search (pass 2) for a run",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		pass2Stars, _ := cmd.Flags().GetInt("pass2-stars")
		pass2MaxStars, _ := cmd.Flags().GetInt("pass2-max-stars")
		maxQueries, _ := cmd.Flags().GetInt("max-queries")
		dry, _ := cmd.Flags().GetBool("dry")

		if !dry {
			if err := cfg.RequireLive(); err != nil {
				return err
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		orch, err := runlog.Attach(cmd.Context(), store, runID, logger)
		if err != nil {
			return err
		}

		p, err := buildPipeline(store, orch, dry)
		if err != nil {
			return err
		}

		// Carry pass 1's exclusions forward.
		params := pipeline.Pass2Params{
			Pass2Stars:    pass2Stars,
			Pass2MaxStars: pass2MaxStars,
			MaxQueries:    maxQueries,
		}
		runArgs := orch.Run().Args
		if days, ok := runArgs["days"].(float64); ok {
			params.Days = int(days)
		}
		if lang, ok := runArgs["lang"].(string); ok {
			params.Language = lang
		}
		if forks, ok := runArgs["include_forks"].(bool); ok {
			params.IncludeForks = forks
		}

		result, err := p.RunPass2(cmd.Context(), params)
		if result != nil {
			emitJSON(result)
		}
		return err
	},
}

// buildPipeline assembles the clients. Dry mode swaps both transports for
// the fixture corpus; nothing touches the network.
func buildPipeline(store *storage.Store, orch *runlog.Orchestrator, dry bool) (*pipeline.Pipeline, error) {
	policy, err := scoring.LoadPolicyOrDefault(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}

	var ghDo, llmDo func(*http.Request) (*http.Response, error)
	if dry {
		ghDo = fixtures.GitHubDo()
		llmDo = fixtures.LLMDo()
	}

	gh, err := github.NewClient(github.Options{
		Token: cfg.GitHubToken,
		Store: store,
		Do:    ghDo,
		OnThrottle: func(ev github.ThrottleEvent) {
			orch.Audit(context.Background(), "warn", "github", "github.throttled",
				"waiting for github rate limit", map[string]any{
					"bucket": ev.Bucket, "wait_ms": ev.WaitMS,
					"reason": ev.Reason, "reset_at": ev.ResetAt,
				})
		},
	})
	if err != nil {
		return nil, err
	}

	llmClient := llm.NewClient(llm.Options{
		APIKey: cfg.OpenRouterAPIKey,
		Model:  cfg.Model,
		Do:     llmDo,
	})

	return &pipeline.Pipeline{
		Store:   store,
		GitHub:  gh,
		LLM:     llmClient,
		Orch:    orch,
		Policy:  policy,
		Prompts: os.DirFS(cfg.PromptsDir),
	}, nil
}

func init() {
	scoutRunCmd.Flags().String("query", "", "Topic query (required)")
	scoutRunCmd.Flags().Int("days", pipeline.DefaultDays, "Only repos pushed within the last N days")
	scoutRunCmd.Flags().Int("stars", pipeline.DefaultStars, "Minimum stars")
	scoutRunCmd.Flags().Int("max-stars", 0, "Maximum stars (0 = open-ended)")
	scoutRunCmd.Flags().Int("top", pipeline.DefaultTopN, "Maximum repos to collect")
	scoutRunCmd.Flags().String("lang", "", "Restrict to a primary language")
	scoutRunCmd.Flags().Bool("include-forks", false, "Include forked repositories")
	scoutRunCmd.Flags().String("model", "", "Override the configured LLM model")
	scoutRunCmd.Flags().Bool("dry", false, "Run against the fixture corpus without network access")
	_ = scoutRunCmd.MarkFlagRequired("query")

	scoutExpandCmd.Flags().String("run-id", "", "Run to expand (required)")
	scoutExpandCmd.Flags().Int("pass2-stars", pipeline.DefaultPass2Stars, "Minimum stars for pass 2")
	scoutExpandCmd.Flags().Int("pass2-max-stars", 0, "Maximum stars for pass 2 (0 = open-ended)")
	scoutExpandCmd.Flags().Int("max-queries", pipeline.DefaultMaxQueries, "Maximum pass-2 queries")
	scoutExpandCmd.Flags().Bool("dry", false, "Run against the fixture corpus without network access")
	_ = scoutExpandCmd.MarkFlagRequired("run-id")

	rootCmd.AddCommand(scoutRunCmd)
	rootCmd.AddCommand(scoutExpandCmd)
}
