package main

import (
	"github.com/spf13/cobra"

	"github.com/scoutworks/cscout/internal/briefs"
	"github.com/scoutworks/cscout/internal/scoring"
)

var debugReplayCmd = &cobra.Command{
	Use:   "debug:replay",
	Short: "Recompute a run's deterministic scores and report differences",
	Long: `Re-read every stored analysis and recompute its final score under the
current (or supplied) scoring policy. Strictly read-only: the store is not
mutated and no network calls are made.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		policyPath, _ := cmd.Flags().GetString("policy")
		if policyPath == "" {
			policyPath = cfg.PolicyPath
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		policy, err := scoring.LoadPolicyOrDefault(policyPath)
		if err != nil {
			return err
		}

		result, err := briefs.Replay(cmd.Context(), store, runID, policy)
		if err != nil {
			return err
		}
		emitJSON(result)
		return nil
	},
}

var debugDumpRunCmd = &cobra.Command{
	Use:   "debug:dump-run",
	Short: "Dump a run's stored records as line-delimited JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		ctx := cmd.Context()

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return errRunNotFound(runID)
		}
		emitJSON(map[string]any{"run_id": run.ID, "kind": "run", "record": run})

		steps, err := store.ListSteps(ctx, runID)
		if err != nil {
			return err
		}
		for _, s := range steps {
			emitJSON(map[string]any{"run_id": runID, "kind": "step", "record": s})
		}

		queries, err := store.ListQueries(ctx, runID)
		if err != nil {
			return err
		}
		for _, q := range queries {
			emitJSON(map[string]any{"run_id": runID, "kind": "github_query", "record": q})
		}

		analyses, err := store.ListAnalysesByRun(ctx, runID)
		if err != nil {
			return err
		}
		for _, a := range analyses {
			emitJSON(map[string]any{"run_id": runID, "kind": "analysis", "record": a})
		}

		briefRows, err := store.ListBriefs(ctx, runID)
		if err != nil {
			return err
		}
		for _, b := range briefRows {
			emitJSON(map[string]any{"run_id": runID, "kind": "brief", "record": b})
		}

		events, err := store.ListAudit(ctx, runID)
		if err != nil {
			return err
		}
		for _, ev := range events {
			emitJSON(map[string]any{"run_id": runID, "kind": "audit_event", "record": ev})
		}
		return nil
	},
}

type errRunNotFound string

func (e errRunNotFound) Error() string {
	return "run " + string(e) + " not found"
}

func init() {
	debugReplayCmd.Flags().String("run-id", "", "Run to replay (required)")
	debugReplayCmd.Flags().String("policy", "", "Alternate scoring policy file")
	_ = debugReplayCmd.MarkFlagRequired("run-id")

	debugDumpRunCmd.Flags().String("run-id", "", "Run to dump (required)")
	_ = debugDumpRunCmd.MarkFlagRequired("run-id")

	rootCmd.AddCommand(debugReplayCmd)
	rootCmd.AddCommand(debugDumpRunCmd)
}
