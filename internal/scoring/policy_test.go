package scoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/types"
)

func analysisOutput(t *testing.T, raw string) *llm.RepoAnalysisOutput {
	t.Helper()
	var out llm.RepoAnalysisOutput
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return &out
}

func TestFinalScoreReferenceVector(t *testing.T) {
	// The canonical check: scores {0.8, 0.7, 0.75} with surfaces
	// ["API","SDK"] and explicitly empty risk_flags under the default
	// policy must yield exactly 0.7675.
	out := analysisOutput(t, `{
		"signals": {"integration_surface": ["API", "SDK"], "risk_flags": []}
	}`)
	scores := types.LLMScores{Interestingness: 0.8, Novelty: 0.7, CollaborationPotential: 0.75}

	got := Default().FinalScore(scores, out)
	assert.Equal(t, 0.7675, got)
}

func TestBonusRiskFlagsAbsentVsEmpty(t *testing.T) {
	p := Default()

	// Explicitly empty risk_flags earns the bonus.
	empty := analysisOutput(t, `{"signals": {"risk_flags": []}}`)
	assert.Equal(t, 0.2, p.Bonus(empty))

	// Absent risk_flags earns nothing. The distinction is load-bearing.
	absent := analysisOutput(t, `{"signals": {}}`)
	assert.Equal(t, 0.0, p.Bonus(absent))

	// Populated risk_flags earns nothing either.
	flagged := analysisOutput(t, `{"signals": {"risk_flags": ["abandoned"]}}`)
	assert.Equal(t, 0.0, p.Bonus(flagged))
}

func TestBonusSurfaceMatching(t *testing.T) {
	p := Default()

	tests := []struct {
		name     string
		signals  string
		expected float64
	}{
		{"no surface", `{}`, 0},
		{"surface without api/sdk", `{"integration_surface": ["CLI"]}`, 0.5},
		{"api surface", `{"integration_surface": ["REST API"]}`, 0.8},
		{"sdk surface case-insensitive", `{"integration_surface": ["python sdk"]}`, 0.8},
		{"api substring does not match", `{"integration_surface": ["rapid"]}`, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := analysisOutput(t, `{"signals": `+tt.signals+`}`)
			assert.InDelta(t, tt.expected, p.Bonus(out), 1e-9)
		})
	}
}

func TestFinalScoreDeterministic(t *testing.T) {
	out := analysisOutput(t, `{"signals": {"integration_surface": ["API"], "risk_flags": []}}`)
	scores := types.LLMScores{Interestingness: 0.61, Novelty: 0.37, CollaborationPotential: 0.83}

	p := Default()
	first := p.FinalScore(scores, out)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, p.FinalScore(scores, out))
	}
}

func TestRound6(t *testing.T) {
	assert.Equal(t, 0.123457, Round6(0.12345678))
	assert.Equal(t, 0.1, Round6(0.1))
	assert.Equal(t, 0.0, Round6(1e-9))
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"version": "test-1",
		"weights": {"w1_interestingness": 0.5, "w2_novelty": 0.1, "w3_collaboration_potential": 0.3, "w4_signals_bonus": 0.1},
		"signals_bonus": {"has_integration_surface": 1, "has_api_or_sdk": 0, "no_risk_flags": 0},
		"thresholds": {"min_repo_score_for_brief": 0.5, "min_collaboration_potential_for_brief": 0.5, "min_brief_score": 0.6}
	}`), 0644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, "test-1", p.Version)
	assert.Equal(t, 0.5, p.Weights.W1Interestingness)

	// Missing version is rejected.
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{}`), 0644))
	_, err = LoadPolicy(bad)
	assert.Error(t, err)
}

func TestLoadPolicyOrDefault(t *testing.T) {
	p, err := LoadPolicyOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default().Version, p.Version)

	p, err = LoadPolicyOrDefault(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, Default().Version, p.Version)
}
