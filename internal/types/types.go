// Package types defines the core entities shared across the cscout pipeline.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepStatus is the terminal status of a pipeline step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// IsValid reports whether the status is one of the closed set.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepSuccess, StepFailed, StepSkipped:
		return true
	}
	return false
}

// BriefStatus tracks the review state of a collaboration brief.
type BriefStatus string

const (
	BriefDraft               BriefStatus = "draft"
	BriefShortlisted         BriefStatus = "shortlisted"
	BriefApproved            BriefStatus = "approved"
	BriefRejected            BriefStatus = "rejected"
	BriefRejectedByThreshold BriefStatus = "rejected_by_threshold"
)

// IsValid reports whether the status is one of the closed set.
func (s BriefStatus) IsValid() bool {
	switch s {
	case BriefDraft, BriefShortlisted, BriefApproved, BriefRejected, BriefRejectedByThreshold:
		return true
	}
	return false
}

// KeywordKind classifies keyword rows extracted from analyses.
type KeywordKind string

const (
	KeywordPrimary     KeywordKind = "primary"
	KeywordSecondary   KeywordKind = "secondary"
	KeywordSearchQuery KeywordKind = "search_query"
)

// Run is a single user-initiated invocation. Created once, never mutated,
// and owns every step/audit/query/analysis/brief row written during it.
type Run struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	Args       map[string]any `json:"args"`
	ConfigHash string         `json:"config_hash"`
	GitCommit  string         `json:"git_commit,omitempty"`
}

// Step is a named, timed phase inside a run.
type Step struct {
	ID         int64          `json:"id"`
	RunID      string         `json:"run_id"`
	Name       string         `json:"name"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Status     StepStatus     `json:"status,omitempty"`
	Stats      map[string]any `json:"stats,omitempty"`
}

// AuditEvent is an immutable structured log row. Data has already been
// through the redactor by the time it reaches the store.
type AuditEvent struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Level     string         `json:"level"`
	Scope     string         `json:"scope"`
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// GitHubQuery records one search issued during a run.
type GitHubQuery struct {
	ID     int64          `json:"id"`
	RunID  string         `json:"run_id"`
	Pass   int            `json:"pass"`
	Query  string         `json:"query"`
	Params map[string]any `json:"params,omitempty"`
}

// Repo is a discovered project, keyed by canonical "owner/name".
type Repo struct {
	FullName    string    `json:"full_name"`
	Stars       int       `json:"stars"`
	Forks       int       `json:"forks"`
	Topics      []string  `json:"topics,omitempty"`
	Language    string    `json:"language,omitempty"`
	License     string    `json:"license,omitempty"`
	PushedAt    time.Time `json:"pushed_at"`
	Archived    bool      `json:"archived"`
	Fork        bool      `json:"fork"`
	LastSeenRun string    `json:"last_seen_run"`
}

// Readme is the current documentation blob for a repository. At most one
// row exists per repo; refreshes replace the previous one.
type Readme struct {
	RepoFullName string    `json:"repo_full_name"`
	Content      []byte    `json:"-"`
	SHA256       string    `json:"sha256"`
	FetchedAt    time.Time `json:"fetched_at"`
	ETag         string    `json:"etag,omitempty"`
	SourceURL    string    `json:"source_url,omitempty"`
}

// LLMScores are the three raw model-reported scores, each in [0,1].
type LLMScores struct {
	Interestingness        float64 `json:"interestingness"`
	Novelty                float64 `json:"novelty"`
	CollaborationPotential float64 `json:"collaboration_potential"`
}

// Analysis is the outcome of running the LLM on a (repo, run) pair.
// Output holds the validated analysis JSON verbatim; FinalScore is
// recomputed deterministically from Scores and Output under the scoring
// policy, never taken from the model.
type Analysis struct {
	ID            int64               `json:"id"`
	RunID         string              `json:"run_id"`
	RepoFullName  string              `json:"repo_full_name"`
	Model         string              `json:"model"`
	PromptID      string              `json:"prompt_id"`
	PromptVersion string              `json:"prompt_version"`
	Input         map[string]any      `json:"input"`
	Output        json.RawMessage     `json:"output"`
	Scores        LLMScores           `json:"llm_scores"`
	FinalScore    float64             `json:"final_score"`
	Reasons       map[string][]string `json:"reasons,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Keyword is a per-repo or run-aggregate term. RepoFullName is empty for
// aggregate rows and set for per-repo rows; the store enforces the split.
type Keyword struct {
	ID           string      `json:"id"`
	RunID        string      `json:"run_id"`
	RepoFullName string      `json:"repo_full_name,omitempty"`
	Term         string      `json:"term"`
	Kind         KeywordKind `json:"kind"`
	Weight       float64     `json:"weight"`
}

// Brief is a 2-4 repo collaboration concept. RepoIDs is stored sorted.
type Brief struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Score     float64         `json:"score"`
	RepoIDs   []string        `json:"repo_ids"`
	Content   json.RawMessage `json:"content"`
	Markdown  string          `json:"markdown"`
	Outreach  string          `json:"outreach"`
	Status    BriefStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// HTTPCacheEntry is a cached upstream response keyed by request hash.
type HTTPCacheEntry struct {
	Key          string     `json:"key"`
	Method       string     `json:"method"`
	URL          string     `json:"url"`
	Status       int        `json:"status"`
	ETag         string     `json:"etag,omitempty"`
	LastModified string     `json:"last_modified,omitempty"`
	Body         []byte     `json:"-"`
	FetchedAt    time.Time  `json:"fetched_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// RateLimitSnapshot is a point-in-time image of upstream rate-limit state.
type RateLimitSnapshot struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Resource  string    `json:"resource"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Canonical step names. StartStep rejects anything outside this set.
const (
	StepInitRun             = "init_run"
	StepRateLimitSnapshot   = "github_rate_limit_snapshot"
	StepSearchPass1         = "github_search_pass1"
	StepHydrateRepoMetadata = "hydrate_repo_metadata"
	StepHydrateReadme       = "hydrate_readme"
	StepLLMRepoAnalysis     = "llm_repo_analysis"
	StepKeywordAggregate    = "keyword_aggregate"
	StepSearchPass2         = "github_search_pass2"
	StepLLMBriefGenerate    = "llm_brief_generate"
	StepExportMarkdown      = "export_markdown"
)

var stepNames = map[string]bool{
	StepInitRun:             true,
	StepRateLimitSnapshot:   true,
	StepSearchPass1:         true,
	StepHydrateRepoMetadata: true,
	StepHydrateReadme:       true,
	StepLLMRepoAnalysis:     true,
	StepKeywordAggregate:    true,
	StepSearchPass2:         true,
	StepLLMBriefGenerate:    true,
	StepExportMarkdown:      true,
}

// ValidateStepName rejects names outside the closed set.
func ValidateStepName(name string) error {
	if !stepNames[name] {
		return fmt.Errorf("unknown step name: %s", name)
	}
	return nil
}
