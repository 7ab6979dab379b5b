package llm

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePrompt = `---
id: repo_analysis
version: v1
schema_id: RepoAnalysisOutput
model_defaults:
  temperature: 0.2
  max_tokens: 2000
---
Analyze {{repo_full_name}}.

README excerpt:
{{readme_excerpt}}
`

func promptFS() fstest.MapFS {
	return fstest.MapFS{
		"repo_analysis@v1.md": &fstest.MapFile{Data: []byte(samplePrompt)},
	}
}

func TestLoadPrompt(t *testing.T) {
	p, err := LoadPrompt(promptFS(), "repo_analysis", "v1")
	require.NoError(t, err)

	assert.Equal(t, "repo_analysis", p.ID)
	assert.Equal(t, "v1", p.Version)
	assert.Equal(t, SchemaRepoAnalysis, p.SchemaID)
	assert.Equal(t, 0.2, p.Temperature)
	assert.Equal(t, 2000, p.MaxTokens)
	assert.Contains(t, p.Body, "Analyze {{repo_full_name}}.")
	assert.NotContains(t, p.Body, "model_defaults")
}

func TestLoadPromptHeaderMismatch(t *testing.T) {
	fs := fstest.MapFS{
		"other@v1.md": &fstest.MapFile{Data: []byte(samplePrompt)},
	}
	_, err := LoadPrompt(fs, "other", "v1")
	assert.Error(t, err, "header id must match the requested id")
}

func TestLoadPromptMissing(t *testing.T) {
	_, err := LoadPrompt(promptFS(), "repo_analysis", "v9")
	assert.Error(t, err)
}

func TestRenderSubstitutes(t *testing.T) {
	out := Render("Analyze {{name}} with {{tool}}.", map[string]string{
		"name": "alpha/one",
		"tool": "cscout",
	})
	assert.Equal(t, "Analyze alpha/one with cscout.", out)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	out := Render("{{known}} and {{unknown}}", map[string]string{"known": "yes"})
	assert.Equal(t, "yes and {{unknown}}", out)
}
