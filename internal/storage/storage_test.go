package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutworks/cscout/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(t *testing.T, s *Store, id string) *types.Run {
	t.Helper()
	run := &types.Run{
		ID:         id,
		CreatedAt:  time.Now().UTC(),
		Args:       map[string]any{"query": "vector database"},
		ConfigHash: "abcd1234abcd1234",
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func testRepo(t *testing.T, s *Store, runID, fullName string) *types.Repo {
	t.Helper()
	repo := &types.Repo{
		FullName:    fullName,
		Stars:       120,
		Topics:      []string{"vector", "database"},
		Language:    "Go",
		License:     "apache-2.0",
		PushedAt:    time.Now().UTC(),
		LastSeenRun: runID,
	}
	require.NoError(t, s.UpsertRepo(context.Background(), repo))
	return repo
}

func TestMigrateIdempotent(t *testing.T) {
	s := testStore(t)

	// Open already migrated; applying again must be a no-op.
	require.NoError(t, s.Migrate())
	require.NoError(t, s.Migrate())

	applied, pending, err := s.MigrationStatus()
	require.NoError(t, err)
	assert.NotEmpty(t, applied)
	assert.Empty(t, pending)
}

func TestForeignKeysEnforced(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Step row without a parent run must be rejected.
	_, err := s.CreateStep(ctx, "no-such-run", types.StepInitRun, time.Now())
	assert.Error(t, err)
}

func TestRunRoundtrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := testRun(t, s, "run-1")
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "vector database", got.Args["query"])

	missing, err := s.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStepLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun(t, s, "run-1")

	id, err := s.CreateStep(ctx, run.ID, types.StepSearchPass1, time.Now())
	require.NoError(t, err)

	err = s.FinishStep(ctx, id, types.StepSuccess, time.Now(), map[string]any{"duration_ms": int64(12)})
	require.NoError(t, err)

	// Steps are finalized exactly once.
	err = s.FinishStep(ctx, id, types.StepFailed, time.Now(), nil)
	assert.Error(t, err)

	steps, err := s.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, types.StepSuccess, steps[0].Status)
	assert.NotNil(t, steps[0].FinishedAt)
}

func TestAuditAppendOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun(t, s, "run-1")

	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertAudit(ctx, &types.AuditEvent{
			RunID:     run.ID,
			CreatedAt: time.Now().UTC(),
			Level:     "info",
			Scope:     types.StepSearchPass1,
			Event:     "step.started",
		}))
	}

	events, err := s.ListAudit(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	n, err := s.CountAuditByEvent(ctx, run.ID, "step.started")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRepoUpsertByFullName(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun(t, s, "run-1")

	testRepo(t, s, run.ID, "alpha/vectordb")
	repo := testRepo(t, s, run.ID, "alpha/vectordb")
	repo.Stars = 200
	require.NoError(t, s.UpsertRepo(ctx, repo))

	dups, err := s.CountReposDuplicates(ctx)
	require.NoError(t, err)
	assert.Zero(t, dups)

	got, err := s.GetRepo(ctx, "alpha/vectordb")
	require.NoError(t, err)
	assert.Equal(t, 200, got.Stars)
	assert.Equal(t, []string{"vector", "database"}, got.Topics)
}

func TestReadmeReplaceInPlace(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun(t, s, "run-1")
	testRepo(t, s, run.ID, "alpha/vectordb")

	first := []byte("# first")
	sum := sha256.Sum256(first)
	require.NoError(t, s.UpsertReadme(ctx, &types.Readme{
		RepoFullName: "alpha/vectordb",
		Content:      first,
		SHA256:       hex.EncodeToString(sum[:]),
		FetchedAt:    time.Now().UTC(),
		ETag:         `W/"v1"`,
	}))

	second := []byte("# second")
	sum = sha256.Sum256(second)
	require.NoError(t, s.UpsertReadme(ctx, &types.Readme{
		RepoFullName: "alpha/vectordb",
		Content:      second,
		SHA256:       hex.EncodeToString(sum[:]),
		FetchedAt:    time.Now().UTC(),
	}))

	got, err := s.GetReadme(ctx, "alpha/vectordb")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second, got.Content)
	assert.Len(t, got.SHA256, 64)
	assert.Equal(t, hex.EncodeToString(sum[:]), got.SHA256)
}

func testAnalysis(runID, repo string, score float64) *types.Analysis {
	return &types.Analysis{
		RunID:         runID,
		RepoFullName:  repo,
		Model:         "test-model",
		PromptID:      "repo_analysis",
		PromptVersion: "1",
		Input:         map[string]any{"readme_sha256": "aa", "excerpt_len": 100},
		Output:        []byte(`{"repo":{"full_name":"` + repo + `"}}`),
		Scores:        types.LLMScores{Interestingness: score, Novelty: score, CollaborationPotential: score},
		FinalScore:    score,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestAnalysisUniquePerRepoPerRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun(t, s, "run-1")
	testRepo(t, s, run.ID, "alpha/vectordb")

	_, err := s.InsertAnalysis(ctx, testAnalysis(run.ID, "alpha/vectordb", 0.8))
	require.NoError(t, err)

	has, err := s.HasAnalysis(ctx, run.ID, "alpha/vectordb")
	require.NoError(t, err)
	assert.True(t, has)

	_, err = s.InsertAnalysis(ctx, testAnalysis(run.ID, "alpha/vectordb", 0.9))
	assert.Error(t, err, "second analysis for same (repo, run) must violate uniqueness")
}

func TestTopAnalysesFromOtherRuns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := testRun(t, s, "run-old")
	cur := testRun(t, s, "run-cur")
	testRepo(t, s, old.ID, "a/one")
	testRepo(t, s, old.ID, "b/two")
	testRepo(t, s, cur.ID, "c/three")

	_, err := s.InsertAnalysis(ctx, testAnalysis(old.ID, "a/one", 0.9))
	require.NoError(t, err)
	_, err = s.InsertAnalysis(ctx, testAnalysis(old.ID, "b/two", 0.7))
	require.NoError(t, err)
	// Repo already present in the current run is excluded even if it scored
	// well historically.
	_, err = s.InsertAnalysis(ctx, testAnalysis(old.ID, "c/three", 0.95))
	require.NoError(t, err)
	_, err = s.InsertAnalysis(ctx, testAnalysis(cur.ID, "c/three", 0.5))
	require.NoError(t, err)

	hist, err := s.TopAnalysesFromOtherRuns(ctx, cur.ID, 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "a/one", hist[0].RepoFullName)
	assert.Equal(t, "b/two", hist[1].RepoFullName)
}

func TestKeywordAggregateSplit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun(t, s, "run-1")
	testRepo(t, s, run.ID, "alpha/vectordb")

	require.NoError(t, s.UpsertKeyword(ctx, &types.Keyword{
		ID: "k1", RunID: run.ID, RepoFullName: "alpha/vectordb",
		Term: "vector search", Kind: types.KeywordPrimary, Weight: 1,
	}))
	require.NoError(t, s.UpsertKeyword(ctx, &types.Keyword{
		ID: "k2", RunID: run.ID,
		Term: "vector search", Kind: types.KeywordPrimary, Weight: 0.8,
	}))

	perRepo, err := s.ListRepoKeywords(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, perRepo, 1)
	assert.Equal(t, "alpha/vectordb", perRepo[0].RepoFullName)

	agg, err := s.ListAggregateKeywords(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, agg, 1)
	assert.Empty(t, agg[0].RepoFullName)

	require.NoError(t, s.DeleteAggregateKeywords(ctx, run.ID))
	agg, err = s.ListAggregateKeywords(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, agg)
}

func TestBriefSortedRepoIDsEnforced(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun(t, s, "run-1")
	testRepo(t, s, run.ID, "a/one")
	testRepo(t, s, run.ID, "b/two")

	bad := &types.Brief{
		ID: "brief-1", RunID: run.ID, Score: 0.8,
		RepoIDs: []string{"b/two", "a/one"},
		Content: []byte(`{}`), Status: types.BriefShortlisted, CreatedAt: time.Now().UTC(),
	}
	assert.Error(t, s.InsertBrief(ctx, bad))

	good := &types.Brief{
		ID: "brief-1", RunID: run.ID, Score: 0.8,
		RepoIDs: []string{"a/one", "b/two"},
		Content: []byte(`{}`), Status: types.BriefShortlisted, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertBrief(ctx, good))

	// Status is the only mutable field.
	require.NoError(t, s.UpdateBriefStatus(ctx, "brief-1", types.BriefApproved))
	got, err := s.GetBrief(ctx, "brief-1")
	require.NoError(t, err)
	assert.Equal(t, types.BriefApproved, got.Status)
}

func TestHTTPCacheTouchPreservesBody(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entry := &types.HTTPCacheEntry{
		Key: "cachekey", Method: "GET", URL: "https://api.github.com/x",
		Status: 200, ETag: `"abc"`, Body: []byte(`{"ok":true}`),
		FetchedAt: time.Now().Add(-time.Hour).UTC(),
	}
	require.NoError(t, s.UpsertCacheEntry(ctx, entry))

	later := time.Now().UTC()
	require.NoError(t, s.TouchCacheEntry(ctx, "cachekey", later))

	got, err := s.GetCacheEntry(ctx, "cachekey")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), got.Body, "304 path must not overwrite the body")
	assert.Equal(t, `"abc"`, got.ETag, "etag roundtrips verbatim")
	assert.WithinDuration(t, later, got.FetchedAt, time.Second)
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun(t, s, "run-1")

	old := time.Now().Add(-48 * time.Hour).UTC()
	require.NoError(t, s.UpsertCacheEntry(ctx, &types.HTTPCacheEntry{
		Key: "old", Method: "GET", URL: "u", Status: 200, FetchedAt: old,
	}))
	require.NoError(t, s.InsertAudit(ctx, &types.AuditEvent{
		RunID: run.ID, CreatedAt: old, Level: "info", Event: "x",
	}))

	n, err := s.PruneHTTPCache(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.PruneAuditLog(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.Vacuum(ctx))
}
