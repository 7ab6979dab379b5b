package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/scoutworks/cscout/internal/github"
	"github.com/scoutworks/cscout/internal/types"
)

// Pass1Params configure the initial topic search.
type Pass1Params struct {
	Query            string
	Days             int
	Stars            int
	MaxStars         int
	TopN             int
	Language         string
	IncludeForks     bool
	Model            string
	ReadmeExcerptLen int
}

func (p *Pass1Params) applyDefaults() {
	if p.Days <= 0 {
		p.Days = DefaultDays
	}
	if p.Stars <= 0 {
		p.Stars = DefaultStars
	}
	if p.TopN <= 0 {
		p.TopN = DefaultTopN
	}
	if p.ReadmeExcerptLen <= 0 {
		p.ReadmeExcerptLen = DefaultReadmeExcerptLen
	}
}

// Pass1Result summarizes pass 1 for the CLI.
type Pass1Result struct {
	RunID          string `json:"run_id"`
	Query          string `json:"query"`
	ReposFound     int    `json:"repos_found"`
	ReadmesFetched int    `json:"readmes_fetched"`
	ReadmesMissing int    `json:"readmes_missing"`
	Analyzed       int    `json:"analyzed"`
	AnalysisFailed int    `json:"analysis_failed"`
}

// RunPass1 executes snapshot -> search -> hydrate -> analyze.
func (p *Pipeline) RunPass1(ctx context.Context, params Pass1Params) (*Pass1Result, error) {
	params.applyDefaults()
	result := &Pass1Result{RunID: p.Orch.Run().ID}

	if err := p.snapshotRateLimit(ctx); err != nil {
		return nil, err
	}

	repos, err := p.searchPass1(ctx, params, result)
	if err != nil {
		return nil, err
	}

	if err := p.hydrateReadmes(ctx, repos, result); err != nil {
		return nil, err
	}

	analyzed, failed, err := p.analyzeStep(ctx, params.Model, params.ReadmeExcerptLen, repos)
	if err != nil {
		return nil, err
	}
	result.Analyzed = analyzed
	result.AnalysisFailed = failed
	if analyzed == 0 && failed > 0 {
		return result, fmt.Errorf("llm analysis failed for every repo (%d failures)", failed)
	}
	return result, nil
}

func (p *Pipeline) snapshotRateLimit(ctx context.Context) error {
	step, err := p.Orch.StartStep(ctx, types.StepRateLimitSnapshot)
	if err != nil {
		return err
	}
	snaps, err := p.GitHub.RateLimit(ctx, p.Orch.Run().ID)
	if err != nil {
		_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
		return fmt.Errorf("rate limit snapshot failed: %w", err)
	}
	for _, snap := range snaps {
		if err := p.Store.InsertRateLimitSnapshot(ctx, snap); err != nil {
			_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
			return err
		}
	}
	return step.Finish(ctx, types.StepSuccess, map[string]any{"resources": len(snaps)})
}

// searchPass1 pages the search endpoint, upserting and linking each repo.
// Returns the discovered repo names in result order.
func (p *Pipeline) searchPass1(ctx context.Context, params Pass1Params, result *Pass1Result) ([]string, error) {
	step, err := p.Orch.StartStep(ctx, types.StepSearchPass1)
	if err != nil {
		return nil, err
	}

	query := github.BuildQuery(github.QualifierParams{
		Query:        params.Query,
		Days:         params.Days,
		Stars:        params.Stars,
		MaxStars:     params.MaxStars,
		Language:     params.Language,
		IncludeForks: params.IncludeForks,
	}, p.now().UTC())
	result.Query = query

	queryID, err := p.Store.InsertQuery(ctx, &types.GitHubQuery{
		RunID: p.Orch.Run().ID,
		Pass:  1,
		Query: query,
		Params: map[string]any{
			"days": params.Days, "stars": params.Stars, "max_stars": params.MaxStars,
			"top_n": params.TopN, "language": params.Language, "include_forks": params.IncludeForks,
		},
	})
	if err != nil {
		_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
		return nil, err
	}

	repos, err := p.collectSearchResults(ctx, queryID, 1, query, params.TopN)
	if err != nil {
		_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
		return nil, err
	}
	result.ReposFound = len(repos)

	if err := step.Finish(ctx, types.StepSuccess, map[string]any{"repos": len(repos)}); err != nil {
		return nil, err
	}
	return repos, nil
}

// collectSearchResults pages one search query up to limit repos, upserting
// and linking each. Stops early on incomplete results or a short page.
func (p *Pipeline) collectSearchResults(ctx context.Context, queryID int64, pass int, query string, limit int) ([]string, error) {
	runID := p.Orch.Run().ID
	var names []string
	rank := 0

	for page := 1; len(names) < limit; page++ {
		perPage := searchPageSize
		if remaining := limit - len(names); remaining < perPage {
			perPage = remaining
		}
		res, err := p.GitHub.SearchRepositories(ctx, query, page, perPage)
		if err != nil {
			return nil, err
		}

		for _, item := range res.Items {
			if len(names) >= limit {
				break
			}
			rank++
			repo := item.ToRepo(runID)
			if err := p.Store.UpsertRepo(ctx, repo); err != nil {
				return nil, err
			}
			if err := p.Store.LinkRepoQuery(ctx, queryID, repo.FullName, pass, rank); err != nil {
				return nil, err
			}
			names = append(names, repo.FullName)
		}

		if res.IncompleteResults || len(res.Items) < perPage {
			break
		}
	}
	return names, nil
}

// hydrateReadmes fetches READMEs for repos that have none yet. A 404 is
// recorded, not failed; any other per-repo failure is recorded and the
// loop continues.
func (p *Pipeline) hydrateReadmes(ctx context.Context, repos []string, result *Pass1Result) error {
	step, err := p.Orch.StartStep(ctx, types.StepHydrateReadme)
	if err != nil {
		return err
	}

	fetched, missing, failed := 0, 0, 0
	for _, fullName := range repos {
		existing, err := p.Store.GetReadme(ctx, fullName)
		if err != nil {
			_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
			return err
		}
		if existing != nil {
			continue
		}

		switch err := p.fetchReadme(ctx, fullName); {
		case err == nil:
			fetched++
			p.Orch.Audit(ctx, "debug", types.StepHydrateReadme, "repo.readme.fetched",
				"readme fetched", map[string]any{"repo": fullName})
		case isNotFound(err):
			missing++
			p.Orch.Audit(ctx, "info", types.StepHydrateReadme, "repo.readme.missing",
				"repo has no readme", map[string]any{"repo": fullName})
		default:
			failed++
			p.Orch.Audit(ctx, "warn", types.StepHydrateReadme, "repo.hydrate.failed",
				"readme hydration failed", map[string]any{"repo": fullName, "error": err.Error()})
		}
	}

	result.ReadmesFetched = fetched
	result.ReadmesMissing = missing
	return step.Finish(ctx, types.StepSuccess, map[string]any{
		"fetched": fetched, "missing": missing, "failed": failed,
	})
}

func (p *Pipeline) fetchReadme(ctx context.Context, fullName string) error {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok {
		return fmt.Errorf("malformed repo name %q", fullName)
	}
	content, err := p.GitHub.Readme(ctx, owner, name)
	if err != nil {
		return err
	}
	return p.Store.UpsertReadme(ctx, &types.Readme{
		RepoFullName: fullName,
		Content:      content.Body,
		SHA256:       sha256Hex(content.Body),
		FetchedAt:    p.now().UTC(),
		ETag:         content.ETag,
		SourceURL:    content.SourceURL,
	})
}

func isNotFound(err error) bool {
	var ghErr *github.Error
	return errors.As(err, &ghErr) && ghErr.Kind == github.KindHTTPStatus && ghErr.Status == http.StatusNotFound
}
