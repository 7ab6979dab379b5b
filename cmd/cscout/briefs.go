package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/scoutworks/cscout/internal/briefs"
	"github.com/scoutworks/cscout/internal/fixtures"
	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/runlog"
	"github.com/scoutworks/cscout/internal/scoring"
)

var briefsGenerateCmd = &cobra.Command{
	Use:   "briefs:generate",
	Short: "Group analyzed repos and synthesize ranked collaboration briefs",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		minScore, _ := cmd.Flags().GetFloat64("min-score")
		maxBriefs, _ := cmd.Flags().GetInt("max-briefs")
		overlapThreshold, _ := cmd.Flags().GetFloat64("overlap-threshold")
		overlapPenalty, _ := cmd.Flags().GetFloat64("overlap-penalty")
		historyCandidates, _ := cmd.Flags().GetInt("history-candidates")
		includeTriples, _ := cmd.Flags().GetBool("triples")
		ownRepo, _ := cmd.Flags().GetString("own-repo")
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

		policy, err := scoring.LoadPolicyOrDefault(cfg.PolicyPath)
		if err != nil {
			return err
		}

		// Flags left at their sentinel (0 for the overlap knobs, -1 for
		// history candidates) fall back to the CS_* knobs.
		if overlapThreshold == 0 {
			overlapThreshold = cfg.OverlapThreshold
		}
		if overlapPenalty == 0 {
			overlapPenalty = cfg.OverlapPenalty
		}
		if historyCandidates < 0 {
			historyCandidates = cfg.HistoryCands
		}

		llmOpts := llm.Options{APIKey: cfg.OpenRouterAPIKey, Model: cfg.Model}
		if dry {
			llmOpts.Do = fixtures.LLMDo()
		}

		engine := &briefs.Engine{
			Store:   store,
			LLM:     llm.NewClient(llmOpts),
			Orch:    orch,
			Policy:  policy,
			Prompts: os.DirFS(cfg.PromptsDir),
		}

		result, err := engine.Generate(cmd.Context(), briefs.GenerateParams{
			MinBriefScore:     minScore,
			MaxBriefs:         maxBriefs,
			OverlapThreshold:  overlapThreshold,
			OverlapPenalty:    overlapPenalty,
			HistoryCandidates: historyCandidates,
			IncludeTriples:    includeTriples,
			OwnRepo:           ownRepo,
		})
		if result != nil {
			emitJSON(result)
		}
		return err
	},
}

var briefsExportCmd = &cobra.Command{
	Use:   "briefs:export",
	Short: "Export a run's briefs as Markdown files",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		outDir, _ := cmd.Flags().GetString("out")
		topN, _ := cmd.Flags().GetInt("top-opportunities")
		if topN <= 0 {
			topN = cfg.TopOpportunities
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

		result, err := briefs.Export(cmd.Context(), store, orch, outDir, topN)
		if result != nil {
			emitJSON(result)
		}
		return err
	},
}

func init() {
	briefsGenerateCmd.Flags().String("run-id", "", "Run whose analyses feed the briefs (required)")
	briefsGenerateCmd.Flags().Float64("min-score", 0.75, "Shortlist threshold for brief scores")
	briefsGenerateCmd.Flags().Int("max-briefs", 20, "Stop after this many briefs")
	briefsGenerateCmd.Flags().Float64("overlap-threshold", 0, "Functional-overlap rejection threshold (default from CS_OVERLAP_THRESHOLD)")
	briefsGenerateCmd.Flags().Float64("overlap-penalty", 0, "Interop exception penalty (default from CS_OVERLAP_EXCEPTION_PENALTY)")
	briefsGenerateCmd.Flags().Int("history-candidates", -1, "Historical analyses to inject (default from CS_HISTORY_CANDIDATES)")
	briefsGenerateCmd.Flags().Bool("triples", false, "Also enumerate three-repo groups")
	briefsGenerateCmd.Flags().String("own-repo", "", "Repo exempt from anchor dedup")
	briefsGenerateCmd.Flags().Bool("dry", false, "Use the fixture LLM instead of the network")
	_ = briefsGenerateCmd.MarkFlagRequired("run-id")

	briefsExportCmd.Flags().String("run-id", "", "Run to export (required)")
	briefsExportCmd.Flags().String("out", "", "Output directory (required)")
	briefsExportCmd.Flags().Int("top-opportunities", 0, "Top-N opportunity files (default from CS_TOP_OPPORTUNITIES)")
	_ = briefsExportCmd.MarkFlagRequired("run-id")
	_ = briefsExportCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(briefsGenerateCmd)
	rootCmd.AddCommand(briefsExportCmd)
}
