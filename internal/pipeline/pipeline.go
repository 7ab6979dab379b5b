// Package pipeline implements the two-pass discovery loop: search GitHub,
// hydrate repository metadata and READMEs, analyze each repo with the LLM,
// aggregate keywords, and re-search. All iteration orders are
// deterministic; external calls go through the injected clients.
package pipeline

import (
	"io/fs"
	"time"

	"github.com/scoutworks/cscout/internal/github"
	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/runlog"
	"github.com/scoutworks/cscout/internal/scoring"
	"github.com/scoutworks/cscout/internal/storage"
)

// Defaults for tuning knobs; every one can be overridden per call.
const (
	DefaultTopN                = 100
	DefaultDays                = 180
	DefaultStars               = 50
	DefaultReadmeExcerptLen    = 8000
	DefaultAggregateTopK       = 20
	DefaultMaxQueries          = 10
	DefaultPass2Stars          = 15
	DefaultMaxNewReposTotal    = 200
	DefaultMaxLLMAnalysesTotal = 200

	promptRepoAnalysis = "repo_analysis"
	promptVersion      = "v1"

	searchPageSize = 50
)

// Pipeline wires the discovery loop's collaborators. One Pipeline value is
// built per run and discarded after it.
type Pipeline struct {
	Store   *storage.Store
	GitHub  *github.Client
	LLM     *llm.Client
	Orch    *runlog.Orchestrator
	Policy  *scoring.Policy
	Prompts fs.FS
	Now     func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
