package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAnalysisJSON() string {
	return `{
		"repo": {"full_name": "alpha/one"},
		"scores": {"interestingness": 0.8, "novelty": 0.7, "collaboration_potential": 0.75},
		"reasons": {
			"interestingness": ["active development"],
			"novelty": ["fresh approach"],
			"collaboration_potential": ["clear API"]
		},
		"signals": {
			"problem_summary": "vector similarity search",
			"who_is_it_for": "ml engineers",
			"integration_surface": ["API", "SDK"],
			"risk_flags": []
		},
		"keywords": {
			"primary": ["vector search"],
			"secondary": ["embeddings"],
			"search_queries": ["vector database go"]
		}
	}`
}

func TestValidateRepoAnalysis(t *testing.T) {
	out, err := ValidateRepoAnalysis(json.RawMessage(validAnalysisJSON()))
	require.NoError(t, err)

	assert.Equal(t, "alpha/one", out.Repo.FullName)
	assert.Equal(t, 0.8, out.Scores.Interestingness)
	assert.Equal(t, []string{"API", "SDK"}, out.Signals.IntegrationSurface)
}

func TestValidateRepoAnalysisRiskFlagsTriState(t *testing.T) {
	// Explicitly empty: pointer present, slice empty.
	out, err := ValidateRepoAnalysis(json.RawMessage(validAnalysisJSON()))
	require.NoError(t, err)
	require.NotNil(t, out.Signals.RiskFlags)
	assert.Empty(t, *out.Signals.RiskFlags)

	// Absent: pointer nil. The scoring bonus depends on the difference.
	absent := strings.Replace(validAnalysisJSON(), `"risk_flags": []`, `"who_is_it_for2": "x"`, 1)
	out, err = ValidateRepoAnalysis(json.RawMessage(absent))
	require.NoError(t, err)
	assert.Nil(t, out.Signals.RiskFlags)

	// Populated.
	flagged := strings.Replace(validAnalysisJSON(), `"risk_flags": []`, `"risk_flags": ["unmaintained"]`, 1)
	out, err = ValidateRepoAnalysis(json.RawMessage(flagged))
	require.NoError(t, err)
	require.NotNil(t, out.Signals.RiskFlags)
	assert.Equal(t, []string{"unmaintained"}, *out.Signals.RiskFlags)
}

func TestValidateRepoAnalysisRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
	}{
		{"not json", func(s string) string { return "NOT VALID JSON!!!" }},
		{"missing full_name", func(s string) string {
			return strings.Replace(s, `"full_name": "alpha/one"`, `"full_name": ""`, 1)
		}},
		{"score out of range", func(s string) string {
			return strings.Replace(s, `"interestingness": 0.8`, `"interestingness": 1.2`, 1)
		}},
		{"negative score", func(s string) string {
			return strings.Replace(s, `"novelty": 0.7`, `"novelty": -0.1`, 1)
		}},
		{"too many reasons", func(s string) string {
			many := `["a","b","c","d","e","f","g","h","i"]`
			return strings.Replace(s, `["active development"]`, many, 1)
		}},
		{"too many search queries", func(s string) string {
			many := `["a","b","c","d","e","f","g","h","i","j","k"]`
			return strings.Replace(s, `["vector database go"]`, many, 1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateRepoAnalysis(json.RawMessage(tt.mutate(validAnalysisJSON())))
			assert.Error(t, err)
		})
	}
}

func validBriefJSON() string {
	return `{
		"title": "Vector search meets workflow automation",
		"concept": "Combine the engines.",
		"repos": [
			{"full_name": "alpha/one", "why_it_fits": "storage layer", "integration_role": "backend"},
			{"full_name": "beta/two", "why_it_fits": "orchestration", "integration_role": "frontend"}
		],
		"outreach_message": "Hello maintainers."
	}`
}

func TestValidateBrief(t *testing.T) {
	out, err := ValidateBrief(json.RawMessage(validBriefJSON()))
	require.NoError(t, err)
	assert.Len(t, out.Repos, 2)
	assert.Equal(t, "alpha/one", out.Repos[0].FullName)
}

func TestValidateBriefRejects(t *testing.T) {
	tooLong := strings.Repeat("x", 101)

	tests := []struct {
		name   string
		mutate func(string) string
	}{
		{"empty title", func(s string) string {
			return strings.Replace(s, `"title": "Vector search meets workflow automation"`, `"title": ""`, 1)
		}},
		{"long title", func(s string) string {
			return strings.Replace(s, "Vector search meets workflow automation", tooLong, 1)
		}},
		{"one repo", func(s string) string {
			return strings.Replace(s, `,
			{"full_name": "beta/two", "why_it_fits": "orchestration", "integration_role": "frontend"}`, "", 1)
		}},
		{"long outreach", func(s string) string {
			return strings.Replace(s, "Hello maintainers.", strings.Repeat("y", 1001), 1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateBrief(json.RawMessage(tt.mutate(validBriefJSON())))
			assert.Error(t, err)
		})
	}
}
