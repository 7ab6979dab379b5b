// Package config loads and validates process configuration from the
// environment. Priority: flags > env (viper) > defaults.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Log levels accepted by CS_LOG_LEVEL.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// Config is the full process configuration. Secret fields are excluded from
// Hash and never serialized by NonSecret.
type Config struct {
	DBPath           string  `mapstructure:"db_path"`
	LogLevel         string  `mapstructure:"log_level"`
	LogFile          string  `mapstructure:"log_file"`
	GitHubToken      string  `mapstructure:"-"`
	OpenRouterAPIKey string  `mapstructure:"-"`
	Model            string  `mapstructure:"model"`
	OverlapThreshold float64 `mapstructure:"overlap_threshold"`
	OverlapPenalty   float64 `mapstructure:"overlap_exception_penalty"`
	TopOpportunities int     `mapstructure:"top_opportunities"`
	HistoryCands     int     `mapstructure:"history_candidates"`
	PolicyPath       string  `mapstructure:"policy_path"`
	PromptsDir       string  `mapstructure:"prompts_dir"`
}

// Load reads configuration from the CS_* environment (plus the two upstream
// credential variables, which keep their conventional names).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("db_path", "cscout.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("model", "qwen/qwen-2.5-72b-instruct")
	v.SetDefault("overlap_threshold", 0.70)
	v.SetDefault("overlap_exception_penalty", 0.10)
	v.SetDefault("top_opportunities", 3)
	v.SetDefault("history_candidates", 100)
	v.SetDefault("policy_path", "policy/default.json")
	v.SetDefault("prompts_dir", "prompts")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Credentials deliberately bypass viper so they never land in any
	// marshalable view of the config.
	cred := viper.New()
	cred.AutomaticEnv()
	cfg.GitHubToken = cred.GetString("GITHUB_TOKEN")
	cfg.OpenRouterAPIKey = cred.GetString("OPENROUTER_API_KEY")

	return &cfg, nil
}

// Validate checks the non-credential fields. Credential presence is checked
// separately per command (doctor and --dry runs work without them).
func (c *Config) Validate() error {
	valid := false
	for _, l := range ValidLogLevels {
		if c.LogLevel == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid CS_LOG_LEVEL %q (want one of %s)", c.LogLevel, strings.Join(ValidLogLevels, ", "))
	}
	if c.DBPath == "" {
		return fmt.Errorf("CS_DB_PATH must not be empty")
	}
	if c.OverlapThreshold < 0 {
		return fmt.Errorf("CS_OVERLAP_THRESHOLD must be >= 0 (got %v)", c.OverlapThreshold)
	}
	if c.OverlapPenalty < 0 || c.OverlapPenalty > 1 {
		return fmt.Errorf("CS_OVERLAP_EXCEPTION_PENALTY must be in [0,1] (got %v)", c.OverlapPenalty)
	}
	if c.TopOpportunities < 0 {
		return fmt.Errorf("CS_TOP_OPPORTUNITIES must be >= 0 (got %d)", c.TopOpportunities)
	}
	if c.HistoryCands < 0 {
		return fmt.Errorf("CS_HISTORY_CANDIDATES must be >= 0 (got %d)", c.HistoryCands)
	}
	return nil
}

// RequireLive checks the credentials needed for a live (non-dry) run.
func (c *Config) RequireLive() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required for live runs")
	}
	if c.OpenRouterAPIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required for live runs")
	}
	return nil
}

// NonSecret returns the configuration view safe for persistence.
func (c *Config) NonSecret() map[string]any {
	return map[string]any{
		"db_path":                   c.DBPath,
		"log_level":                 c.LogLevel,
		"log_file":                  c.LogFile,
		"model":                     c.Model,
		"overlap_threshold":         c.OverlapThreshold,
		"overlap_exception_penalty": c.OverlapPenalty,
		"top_opportunities":         c.TopOpportunities,
		"history_candidates":        c.HistoryCands,
		"policy_path":               c.PolicyPath,
		"prompts_dir":               c.PromptsDir,
	}
}

// Hash returns the 16-hex-char truncated SHA-256 of the keys-sorted
// non-secret config JSON. encoding/json sorts map keys, which gives the
// canonical form for free.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c.NonSecret())
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
