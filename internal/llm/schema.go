package llm

import (
	"encoding/json"
	"fmt"
)

// Schema identifiers referenced by prompt headers.
const (
	SchemaRepoAnalysis = "RepoAnalysisOutput"
	SchemaBrief        = "BriefOutput"
)

// RepoAnalysisOutput is the validated shape of a repo analysis completion.
// The struct round-trips the tri-state risk_flags distinction: RiskFlags
// nil means the field was absent, non-nil-but-empty means the model
// explicitly reported none. Scoring depends on that difference.
type RepoAnalysisOutput struct {
	Repo struct {
		FullName string `json:"full_name"`
	} `json:"repo"`
	Scores struct {
		Interestingness        float64 `json:"interestingness"`
		Novelty                float64 `json:"novelty"`
		CollaborationPotential float64 `json:"collaboration_potential"`
	} `json:"scores"`
	Reasons struct {
		Interestingness        []string `json:"interestingness"`
		Novelty                []string `json:"novelty"`
		CollaborationPotential []string `json:"collaboration_potential"`
	} `json:"reasons"`
	Signals struct {
		ProblemSummary     string    `json:"problem_summary,omitempty"`
		WhoIsItFor         string    `json:"who_is_it_for,omitempty"`
		IntegrationSurface []string  `json:"integration_surface,omitempty"`
		RiskFlags          *[]string `json:"risk_flags,omitempty"`
	} `json:"signals"`
	Keywords struct {
		Primary       []string `json:"primary"`
		Secondary     []string `json:"secondary"`
		SearchQueries []string `json:"search_queries"`
	} `json:"keywords"`
}

// ValidateRepoAnalysis parses and validates a RepoAnalysisOutput payload.
func ValidateRepoAnalysis(raw json.RawMessage) (*RepoAnalysisOutput, error) {
	var out RepoAnalysisOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("repo analysis output is not valid JSON: %w", err)
	}
	if out.Repo.FullName == "" {
		return nil, fmt.Errorf("repo analysis output missing repo.full_name")
	}
	for name, v := range map[string]float64{
		"interestingness":         out.Scores.Interestingness,
		"novelty":                 out.Scores.Novelty,
		"collaboration_potential": out.Scores.CollaborationPotential,
	} {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("score %s out of range [0,1]: %v", name, v)
		}
	}
	for name, list := range map[string][]string{
		"reasons.interestingness":         out.Reasons.Interestingness,
		"reasons.novelty":                 out.Reasons.Novelty,
		"reasons.collaboration_potential": out.Reasons.CollaborationPotential,
	} {
		if len(list) > 8 {
			return nil, fmt.Errorf("%s exceeds 8 items (%d)", name, len(list))
		}
	}
	if n := len(out.Keywords.Primary); n > 12 {
		return nil, fmt.Errorf("keywords.primary exceeds 12 items (%d)", n)
	}
	if n := len(out.Keywords.Secondary); n > 24 {
		return nil, fmt.Errorf("keywords.secondary exceeds 24 items (%d)", n)
	}
	if n := len(out.Keywords.SearchQueries); n > 10 {
		return nil, fmt.Errorf("keywords.search_queries exceeds 10 items (%d)", n)
	}
	return &out, nil
}

// BriefOutput is the validated shape of a brief synthesis completion.
type BriefOutput struct {
	Title   string `json:"title"`
	Concept string `json:"concept"`
	Repos   []struct {
		FullName        string `json:"full_name"`
		WhyItFits       string `json:"why_it_fits"`
		IntegrationRole string `json:"integration_role"`
	} `json:"repos"`
	OutreachMessage string `json:"outreach_message"`
}

// ValidateBrief parses and validates a BriefOutput payload.
func ValidateBrief(raw json.RawMessage) (*BriefOutput, error) {
	var out BriefOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("brief output is not valid JSON: %w", err)
	}
	if out.Title == "" || len(out.Title) > 100 {
		return nil, fmt.Errorf("brief title must be 1-100 characters (got %d)", len(out.Title))
	}
	if len(out.Concept) > 600 {
		return nil, fmt.Errorf("brief concept exceeds 600 characters (%d)", len(out.Concept))
	}
	if len(out.Repos) < 2 || len(out.Repos) > 4 {
		return nil, fmt.Errorf("brief must cover 2-4 repos (got %d)", len(out.Repos))
	}
	for i, r := range out.Repos {
		if r.FullName == "" {
			return nil, fmt.Errorf("brief repo %d missing full_name", i)
		}
		if len(r.WhyItFits) > 300 {
			return nil, fmt.Errorf("brief repo %s why_it_fits exceeds 300 characters", r.FullName)
		}
		if len(r.IntegrationRole) > 100 {
			return nil, fmt.Errorf("brief repo %s integration_role exceeds 100 characters", r.FullName)
		}
	}
	if len(out.OutreachMessage) > 1000 {
		return nil, fmt.Errorf("outreach_message exceeds 1000 characters (%d)", len(out.OutreachMessage))
	}
	return &out, nil
}
