package briefs

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutworks/cscout/internal/runlog"
	"github.com/scoutworks/cscout/internal/scoring"
	"github.com/scoutworks/cscout/internal/storage"
)

// seedPolicyAlignedRun inserts two analyses whose stored final scores are
// exactly what the default policy computes, as the pipeline would. With
// i=0.8, n=0.7, c=0.75, surface ["API"], and explicitly empty risk_flags
// the bonus is 1.0 and the final score is 0.7675.
func seedPolicyAlignedRun(t *testing.T, store *storage.Store) string {
	t.Helper()
	ctx := context.Background()
	orch, err := runlog.New(ctx, store, runlog.Options{})
	require.NoError(t, err)
	runID := orch.Run().ID

	seedRepoAnalysis(t, store, runID, "a/one", 0.7675, 0.75,
		nil, "Go", "vector problem", []string{"API"}, []string{"kw"})
	seedRepoAnalysis(t, store, runID, "b/two", 0.7675, 0.75,
		nil, "Go", "workflow problem", []string{"API"}, []string{"kw"})
	return runID
}

func TestReplayUnchanged(t *testing.T) {
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runID := seedPolicyAlignedRun(t, store)
	ctx := context.Background()

	before, err := store.ListAnalysesByRun(ctx, runID)
	require.NoError(t, err)

	result, err := Replay(ctx, store, runID, scoring.Default())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Replayed)
	assert.Equal(t, 2, result.Unchanged)
	assert.Zero(t, result.Changed)
	assert.Empty(t, result.Diffs)
	assert.Equal(t, scoring.Default().Version, result.PolicyVersion)

	// Replay never mutates the store.
	after, err := store.ListAnalysesByRun(ctx, runID)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("store mutated by replay (-before +after):\n%s", diff)
	}
}

func TestReplayDetectsPolicyChange(t *testing.T) {
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runID := seedPolicyAlignedRun(t, store)
	ctx := context.Background()

	altered := scoring.Default()
	altered.Version = "altered"
	altered.Weights.W1Interestingness = 0.5
	altered.Weights.W2Novelty = 0.1

	result, err := Replay(ctx, store, runID, altered)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Replayed)
	assert.Equal(t, 2, result.Changed)
	assert.Zero(t, result.Unchanged)
	require.Len(t, result.Diffs, 2)
	assert.Equal(t, "a/one", result.Diffs[0].Repo)
	assert.NotEqual(t, result.Diffs[0].Stored, result.Diffs[0].Recomputed)
	assert.Equal(t, "altered", result.PolicyVersion)
}

func TestReplayMissingRun(t *testing.T) {
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = Replay(context.Background(), store, "missing", scoring.Default())
	assert.Error(t, err)
}
