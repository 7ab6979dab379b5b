package briefs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/types"
)

func TestTokenize(t *testing.T) {
	tokens := tokenize("A vector-database for similarity search, with the embeddings!")
	assert.Equal(t, []string{"vector", "database", "similarity", "search", "embeddings"}, tokens)
}

func TestTokenizeDropsShortTokens(t *testing.T) {
	tokens := tokenize("go db io vector")
	assert.Equal(t, []string{"vector"}, tokens)
}

func entryFromOutput(t *testing.T, fullName, outputJSON string) *PoolEntry {
	t.Helper()
	var out llm.RepoAnalysisOutput
	require.NoError(t, json.Unmarshal([]byte(outputJSON), &out))
	out.Repo.FullName = fullName
	return &PoolEntry{
		Repo:     &types.Repo{FullName: fullName},
		Analysis: &types.Analysis{RepoFullName: fullName},
		Output:   &out,
	}
}

func competitorOutput(extraPrimary string) string {
	primary := `"vector search", "similarity engine"`
	if extraPrimary != "" {
		primary += `, "` + extraPrimary + `"`
	}
	return `{
		"signals": {
			"problem_summary": "vector database for similarity search over embedding storage",
			"integration_surface": ["API", "gRPC", "REST"]
		},
		"keywords": {
			"primary": [` + primary + `],
			"secondary": ["embeddings"],
			"search_queries": ["vector database"]
		}
	}`
}

func TestFilterPairRejectsCompetitors(t *testing.T) {
	a := NewSignature(entryFromOutput(t, "alpha/db", competitorOutput("")))
	b := NewSignature(entryFromOutput(t, "beta/db", competitorOutput("")))

	res := FilterPair(a, b, 0.70, 0.10)
	assert.True(t, res.Rejected)
	assert.GreaterOrEqual(t, res.FunctionalOverlap, 0.70)
	assert.Zero(t, res.PenaltyApplied)
	assert.False(t, res.ExceptionTriggered)
}

func TestFilterPairInteropException(t *testing.T) {
	a := NewSignature(entryFromOutput(t, "alpha/db", competitorOutput("migration")))
	b := NewSignature(entryFromOutput(t, "beta/db", competitorOutput("")))

	res := FilterPair(a, b, 0.70, 0.10)
	assert.False(t, res.Rejected)
	assert.True(t, res.ExceptionTriggered)
	assert.Equal(t, "interop_exception", res.ExceptionReason)
	assert.Equal(t, 0.10, res.PenaltyApplied)
}

func TestFilterPairBelowThresholdAllows(t *testing.T) {
	a := NewSignature(entryFromOutput(t, "alpha/db", `{
		"signals": {"problem_summary": "vector similarity search", "integration_surface": ["API"]},
		"keywords": {"primary": ["vector search"]}
	}`))
	b := NewSignature(entryFromOutput(t, "beta/flow", `{
		"signals": {"problem_summary": "workflow automation pipelines", "integration_surface": ["CLI"]},
		"keywords": {"primary": ["workflow engine"]}
	}`))

	res := FilterPair(a, b, 0.70, 0.10)
	assert.False(t, res.Rejected)
	assert.False(t, res.ExceptionTriggered)
	assert.Zero(t, res.PenaltyApplied)
	assert.Less(t, res.FunctionalOverlap, 0.70)
}

func TestFilterPairThresholdBoundaries(t *testing.T) {
	a := NewSignature(entryFromOutput(t, "alpha/db", competitorOutput("")))
	b := NewSignature(entryFromOutput(t, "beta/flow", `{
		"signals": {"problem_summary": "workflow automation", "integration_surface": ["CLI"]},
		"keywords": {"primary": ["workflow"]}
	}`))

	// Threshold 0.0: every non-empty pair is at or above it, so without
	// triggers everything rejects.
	res := FilterPair(a, b, 0.0, 0.10)
	assert.True(t, res.Rejected)

	// Threshold above 1.0: nothing can reach it, nothing rejects.
	identical := NewSignature(entryFromOutput(t, "gamma/db", competitorOutput("")))
	res = FilterPair(a, identical, 1.01, 0.10)
	assert.False(t, res.Rejected)
	assert.False(t, res.ExceptionTriggered)
}

func TestFunctionalOverlapWeights(t *testing.T) {
	// Identical problem tokens and surfaces, disjoint primaries:
	// 0.45 + 0.35 + 0 = 0.80.
	a := NewSignature(entryFromOutput(t, "a/x", `{
		"signals": {"problem_summary": "vector database", "integration_surface": ["API"]},
		"keywords": {"primary": ["left side"]}
	}`))
	b := NewSignature(entryFromOutput(t, "b/y", `{
		"signals": {"problem_summary": "vector database", "integration_surface": ["API"]},
		"keywords": {"primary": ["right half"]}
	}`))

	res := FilterPair(a, b, 2.0, 0.10)
	assert.InDelta(t, 0.80, res.FunctionalOverlap, 1e-9)
}
