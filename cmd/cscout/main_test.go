package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutworks/cscout/internal/storage"
	"github.com/scoutworks/cscout/internal/types"
)

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cscout.db")
	t.Setenv("CS_DB_PATH", dbPath)
	t.Setenv("CS_LOG_LEVEL", "error")
	t.Setenv("CS_PROMPTS_DIR", "../../prompts")
	t.Setenv("CS_POLICY_PATH", "../../policy/default.json")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	return dbPath
}

func TestScoutRunDryEndToEnd(t *testing.T) {
	dbPath := setupEnv(t)

	err := runCLI(t, "scout:run", "--query", "vector database", "--top", "3", "--dry")
	require.NoError(t, err)

	store, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	// Exactly one run with pass-1 artifacts from the fixture corpus.
	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	runID := runs[0].ID

	queries, err := store.ListQueries(ctx, runID)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, 1, queries[0].Pass)

	for _, name := range []string{"alpha/vector-db", "beta/embed-store", "gamma/sim-engine"} {
		repo, err := store.GetRepo(ctx, name)
		require.NoError(t, err)
		assert.NotNil(t, repo, name)
	}

	analyses, err := store.ListAnalysesByRun(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, analyses, 2, "gamma has no readme and is not analyzed")

	steps, err := store.ListSteps(ctx, runID)
	require.NoError(t, err)
	byName := map[string]types.StepStatus{}
	for _, s := range steps {
		byName[s.Name] = s.Status
	}
	assert.Equal(t, types.StepSuccess, byName[types.StepHydrateReadme])
	assert.Equal(t, types.StepSuccess, byName[types.StepLLMRepoAnalysis])

	// The sentinel never reaches the store even though it was in the env.
	t.Setenv("GITHUB_TOKEN", "SENTINEL_TOKEN")
	err = runCLI(t, "debug:replay", "--run-id", runID)
	require.NoError(t, err)

	events, err := store.ListAudit(ctx, runID)
	require.NoError(t, err)
	for _, ev := range events {
		for _, v := range ev.Data {
			if s, ok := v.(string); ok {
				assert.NotContains(t, s, "SENTINEL_TOKEN")
			}
		}
	}
}

func TestDoctorJSONWithoutCredentials(t *testing.T) {
	setupEnv(t)

	// Doctor reports missing credentials as failed checks and exits
	// non-zero, but never panics or mutates state.
	err := runCLI(t, "doctor", "--json")
	assert.Error(t, err)
}

func TestDBMigrateIdempotent(t *testing.T) {
	setupEnv(t)

	require.NoError(t, runCLI(t, "db:migrate"))
	require.NoError(t, runCLI(t, "db:migrate"))
}
