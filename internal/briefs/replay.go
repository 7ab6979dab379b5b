package briefs

import (
	"context"
	"fmt"

	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/scoring"
	"github.com/scoutworks/cscout/internal/storage"
)

// ReplayDiff records one analysis whose recomputed score differs from the
// stored value.
type ReplayDiff struct {
	Repo       string  `json:"repo"`
	Stored     float64 `json:"stored"`
	Recomputed float64 `json:"recomputed"`
}

// ReplayResult reports a replay pass.
type ReplayResult struct {
	RunID         string       `json:"run_id"`
	PolicyVersion string       `json:"policy_version"`
	Replayed      int          `json:"replayed"`
	Changed       int          `json:"changed"`
	Unchanged     int          `json:"unchanged"`
	Diffs         []ReplayDiff `json:"diffs,omitempty"`
}

// Replay recomputes every stored analysis's final score from its stored
// llm scores and output signals under the given policy and reports the
// differences. Strictly read-only: no store writes, no network.
func Replay(ctx context.Context, store *storage.Store, runID string, policy *scoring.Policy) (*ReplayResult, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}

	analyses, err := store.ListAnalysesByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{RunID: runID, PolicyVersion: policy.Version}
	for _, a := range analyses {
		out, err := llm.ValidateRepoAnalysis(a.Output)
		if err != nil {
			return nil, fmt.Errorf("stored analysis for %s is invalid: %w", a.RepoFullName, err)
		}
		recomputed := policy.FinalScore(a.Scores, out)
		result.Replayed++
		if recomputed == a.FinalScore {
			result.Unchanged++
			continue
		}
		result.Changed++
		result.Diffs = append(result.Diffs, ReplayDiff{
			Repo:       a.RepoFullName,
			Stored:     a.FinalScore,
			Recomputed: recomputed,
		})
	}
	return result, nil
}
