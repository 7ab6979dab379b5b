package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactMatchingKeys(t *testing.T) {
	in := map[string]any{
		"github_token":  "ghp_abc123",
		"api_key":       "sk-or-v1-xyz",
		"clientSecret":  "shh",
		"password":      "hunter2",
		"Authorization": "Bearer abc",
		"query":         "vector database",
	}

	out := Redact(in).(map[string]any)

	assert.Equal(t, Sentinel, out["github_token"])
	assert.Equal(t, Sentinel, out["api_key"])
	assert.Equal(t, Sentinel, out["clientSecret"])
	assert.Equal(t, Sentinel, out["password"])
	assert.Equal(t, Sentinel, out["Authorization"])
	assert.Equal(t, "vector database", out["query"])
}

func TestRedactNested(t *testing.T) {
	in := map[string]any{
		"config": map[string]any{
			"openrouter_api_key": "sk-or-v1-secret",
			"model":              "qwen",
		},
		"headers": []any{
			map[string]any{"authorization": "Bearer tok"},
			"plain",
		},
	}

	out := Redact(in).(map[string]any)

	cfg := out["config"].(map[string]any)
	assert.Equal(t, Sentinel, cfg["openrouter_api_key"])
	assert.Equal(t, "qwen", cfg["model"])

	headers := out["headers"].([]any)
	assert.Equal(t, Sentinel, headers[0].(map[string]any)["authorization"])
	assert.Equal(t, "plain", headers[1])
}

func TestRedactLeavesNonStringSecretValues(t *testing.T) {
	// Only non-empty string values are replaced. Numbers, bools, and empty
	// strings under a matching key pass through.
	in := map[string]any{
		"token_count": 42,
		"has_key":     true,
		"token":       "",
	}

	out := Redact(in).(map[string]any)

	assert.Equal(t, 42, out["token_count"])
	assert.Equal(t, true, out["has_key"])
	assert.Equal(t, "", out["token"])
}

func TestRedactPrimitivesAndNil(t *testing.T) {
	assert.Equal(t, "text", Redact("text"))
	assert.Equal(t, 3.14, Redact(3.14))
	assert.Nil(t, Redact(nil))
}

func TestRedactDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"token": "value"}
	_ = Redact(in)
	require.Equal(t, "value", in["token"])
}

func TestMapNil(t *testing.T) {
	assert.Nil(t, Map(nil))
}
