package pipeline

import (
	"context"
	"fmt"

	"github.com/scoutworks/cscout/internal/github"
	"github.com/scoutworks/cscout/internal/types"
)

// Pass2Params configure the keyword-driven expansion pass. Days, Language,
// and IncludeForks carry over pass 1's exclusions.
type Pass2Params struct {
	Pass2Stars          int
	Pass2MaxStars       int
	MaxQueries          int
	AggregateTopK       int
	Days                int
	Language            string
	IncludeForks        bool
	Model               string
	ReadmeExcerptLen    int
	MaxNewReposTotal    int
	MaxLLMAnalysesTotal int
}

func (p *Pass2Params) applyDefaults() {
	if p.Pass2Stars <= 0 {
		p.Pass2Stars = DefaultPass2Stars
	}
	if p.MaxQueries <= 0 {
		p.MaxQueries = DefaultMaxQueries
	}
	if p.AggregateTopK <= 0 {
		p.AggregateTopK = DefaultAggregateTopK
	}
	if p.Days <= 0 {
		p.Days = DefaultDays
	}
	if p.ReadmeExcerptLen <= 0 {
		p.ReadmeExcerptLen = DefaultReadmeExcerptLen
	}
	if p.MaxNewReposTotal <= 0 {
		p.MaxNewReposTotal = DefaultMaxNewReposTotal
	}
	if p.MaxLLMAnalysesTotal <= 0 {
		p.MaxLLMAnalysesTotal = DefaultMaxLLMAnalysesTotal
	}
}

// Pass2Result summarizes pass 2 for the CLI.
type Pass2Result struct {
	RunID          string   `json:"run_id"`
	Queries        []string `json:"queries"`
	NewRepos       int      `json:"new_repos"`
	Linked         int      `json:"linked"`
	Analyzed       int      `json:"analyzed"`
	AnalysisFailed int      `json:"analysis_failed"`
	Capped         bool     `json:"capped"`
	CapReason      string   `json:"cap_reason,omitempty"`
}

// RunPass2 aggregates keywords, generates queries, and runs the expansion
// search under the hard caps.
func (p *Pipeline) RunPass2(ctx context.Context, params Pass2Params) (*Pass2Result, error) {
	params.applyDefaults()
	runID := p.Orch.Run().ID
	result := &Pass2Result{RunID: runID}

	agg, err := p.AggregateKeywords(ctx, params.AggregateTopK)
	if err != nil {
		return nil, err
	}
	result.Queries = BuildPass2Queries(agg, params.MaxQueries)

	step, err := p.Orch.StartStep(ctx, types.StepSearchPass2)
	if err != nil {
		return nil, err
	}
	if err := p.executePass2(ctx, params, result); err != nil {
		_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
		return nil, err
	}

	stats := map[string]any{
		"queries":   len(result.Queries),
		"new_repos": result.NewRepos,
		"linked":    result.Linked,
		"analyzed":  result.Analyzed,
		"failed":    result.AnalysisFailed,
		"capped":    result.Capped,
	}
	if result.Capped {
		stats["reason"] = result.CapReason
	}
	if err := step.Finish(ctx, types.StepSuccess, stats); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) executePass2(ctx context.Context, params Pass2Params, result *Pass2Result) error {
	runID := p.Orch.Run().ID

	for _, term := range result.Queries {
		if result.Capped {
			break
		}

		query := github.BuildQuery(github.QualifierParams{
			Query:        term,
			Days:         params.Days,
			Stars:        params.Pass2Stars,
			MaxStars:     params.Pass2MaxStars,
			Language:     params.Language,
			IncludeForks: params.IncludeForks,
		}, p.now().UTC())

		queryID, err := p.Store.InsertQuery(ctx, &types.GitHubQuery{
			RunID: runID,
			Pass:  2,
			Query: query,
			Params: map[string]any{
				"term": term, "pass2_stars": params.Pass2Stars, "pass2_max_stars": params.Pass2MaxStars,
			},
		})
		if err != nil {
			return err
		}

		if err := p.pass2Query(ctx, queryID, query, params, result); err != nil {
			return err
		}
	}
	return nil
}

// pass2Query runs one expansion query: known repos get link-only; new
// repos are upserted, hydrated, and analyzed under the run-wide caps.
func (p *Pipeline) pass2Query(ctx context.Context, queryID int64, query string, params Pass2Params, result *Pass2Result) error {
	runID := p.Orch.Run().ID
	rank := 0

	for page := 1; ; page++ {
		res, err := p.GitHub.SearchRepositories(ctx, query, page, searchPageSize)
		if err != nil {
			return err
		}

		for _, item := range res.Items {
			rank++
			fullName := item.FullName

			analyzed, err := p.Store.HasAnalysis(ctx, runID, fullName)
			if err != nil {
				return err
			}
			if analyzed {
				if err := p.Store.LinkRepoQuery(ctx, queryID, fullName, 2, rank); err != nil {
					return err
				}
				result.Linked++
				continue
			}

			if result.NewRepos >= params.MaxNewReposTotal {
				p.cap(ctx, result, "pass2.new_repos.capped", "max_new_repos_total",
					map[string]any{"cap": params.MaxNewReposTotal})
				return nil
			}
			if result.Analyzed+result.AnalysisFailed >= params.MaxLLMAnalysesTotal {
				p.cap(ctx, result, "pass2.llm_analyses.capped", "max_llm_analyses_total",
					map[string]any{"cap": params.MaxLLMAnalysesTotal})
				return nil
			}

			repo := item.ToRepo(runID)
			if err := p.Store.UpsertRepo(ctx, repo); err != nil {
				return err
			}
			if err := p.Store.LinkRepoQuery(ctx, queryID, fullName, 2, rank); err != nil {
				return err
			}
			result.NewRepos++

			if err := p.hydrateIfMissing(ctx, fullName); err != nil {
				return err
			}

			outcome, err := p.analyzeRepo(ctx, params.Model, params.ReadmeExcerptLen, fullName)
			if err != nil {
				return err
			}
			switch outcome {
			case analyzeDone:
				result.Analyzed++
			case analyzeFailed:
				result.AnalysisFailed++
			}
		}

		if res.IncompleteResults || len(res.Items) < searchPageSize {
			return nil
		}
	}
}

func (p *Pipeline) cap(ctx context.Context, result *Pass2Result, event, reason string, data map[string]any) {
	result.Capped = true
	result.CapReason = reason
	p.Orch.Audit(ctx, "warn", types.StepSearchPass2, event,
		fmt.Sprintf("pass 2 stopped: %s", reason), data)
}

func (p *Pipeline) hydrateIfMissing(ctx context.Context, fullName string) error {
	existing, err := p.Store.GetReadme(ctx, fullName)
	if err != nil || existing != nil {
		return err
	}
	switch err := p.fetchReadme(ctx, fullName); {
	case err == nil:
		p.Orch.Audit(ctx, "debug", types.StepSearchPass2, "repo.readme.fetched",
			"readme fetched", map[string]any{"repo": fullName})
	case isNotFound(err):
		p.Orch.Audit(ctx, "info", types.StepSearchPass2, "repo.readme.missing",
			"repo has no readme", map[string]any{"repo": fullName})
	default:
		p.Orch.Audit(ctx, "warn", types.StepSearchPass2, "repo.hydrate.failed",
			"readme hydration failed", map[string]any{"repo": fullName, "error": err.Error()})
	}
	return nil
}
