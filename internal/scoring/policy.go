// Package scoring loads the versioned scoring policy and computes the
// deterministic final score for a repo analysis. The same code path runs
// during analysis and during replay, which is what makes replay meaningful.
package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"

	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/types"
)

// Policy is the versioned JSON file of weights, bonuses, and thresholds.
type Policy struct {
	Version string `json:"version"`
	Weights struct {
		W1Interestingness        float64 `json:"w1_interestingness"`
		W2Novelty                float64 `json:"w2_novelty"`
		W3CollaborationPotential float64 `json:"w3_collaboration_potential"`
		W4SignalsBonus           float64 `json:"w4_signals_bonus"`
	} `json:"weights"`
	SignalsBonus struct {
		HasIntegrationSurface float64 `json:"has_integration_surface"`
		HasAPIOrSDK           float64 `json:"has_api_or_sdk"`
		NoRiskFlags           float64 `json:"no_risk_flags"`
	} `json:"signals_bonus"`
	Thresholds struct {
		MinRepoScoreForBrief              float64 `json:"min_repo_score_for_brief"`
		MinCollaborationPotentialForBrief float64 `json:"min_collaboration_potential_for_brief"`
		MinBriefScore                     float64 `json:"min_brief_score"`
	} `json:"thresholds"`
}

// Default returns the built-in policy used when no file is supplied.
func Default() *Policy {
	var p Policy
	p.Version = "2026-02-default"
	p.Weights.W1Interestingness = 0.35
	p.Weights.W2Novelty = 0.25
	p.Weights.W3CollaborationPotential = 0.35
	p.Weights.W4SignalsBonus = 0.05
	p.SignalsBonus.HasIntegrationSurface = 0.5
	p.SignalsBonus.HasAPIOrSDK = 0.3
	p.SignalsBonus.NoRiskFlags = 0.2
	p.Thresholds.MinRepoScoreForBrief = 0.60
	p.Thresholds.MinCollaborationPotentialForBrief = 0.65
	p.Thresholds.MinBriefScore = 0.75
	return &p
}

// LoadPolicy reads a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring policy: %w", err)
	}
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse scoring policy %s: %w", path, err)
	}
	if p.Version == "" {
		return nil, fmt.Errorf("scoring policy %s missing version", path)
	}
	return &p, nil
}

// LoadPolicyOrDefault loads path when it exists, falling back to the
// built-in default otherwise.
func LoadPolicyOrDefault(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadPolicy(path)
}

var apiOrSDKRegex = regexp.MustCompile(`(?i)\bapi\b|\bsdk\b`)

// Bonus computes the signals-bonus term from the analysis signals.
//
// The no_risk_flags bonus applies only when risk_flags was explicitly
// present and empty. An absent field earns nothing; the asymmetry keeps
// historical scores stable and is intentional.
func (p *Policy) Bonus(out *llm.RepoAnalysisOutput) float64 {
	bonus := 0.0
	if len(out.Signals.IntegrationSurface) > 0 {
		bonus += p.SignalsBonus.HasIntegrationSurface
	}
	for _, surface := range out.Signals.IntegrationSurface {
		if apiOrSDKRegex.MatchString(surface) {
			bonus += p.SignalsBonus.HasAPIOrSDK
			break
		}
	}
	if out.Signals.RiskFlags != nil && len(*out.Signals.RiskFlags) == 0 {
		bonus += p.SignalsBonus.NoRiskFlags
	}
	return bonus
}

// FinalScore computes w1·i + w2·n + w3·c + w4·bonus, rounded to 1e-6.
func (p *Policy) FinalScore(scores types.LLMScores, out *llm.RepoAnalysisOutput) float64 {
	score := p.Weights.W1Interestingness*scores.Interestingness +
		p.Weights.W2Novelty*scores.Novelty +
		p.Weights.W3CollaborationPotential*scores.CollaborationPotential +
		p.Weights.W4SignalsBonus*p.Bonus(out)
	return Round6(score)
}

// Round6 rounds to 10^-6, the precision every derived score is stored at.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
