package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/scoutworks/cscout/internal/scoring"
	"github.com/scoutworks/cscout/internal/types"
)

// AggregateKeywords folds per-repo keywords from the run's top-K analyses
// into run-aggregate rows. Each occurrence contributes
// keyword.weight x owning-analysis.final_score; totals are rounded to
// 1e-6. The result is sorted by weight descending, then term ascending
// (kind as a final tiebreak), written back with a null repo, and returned.
// Aggregation is idempotent: re-running replaces the aggregate rows and
// yields identical tuples in identical order.
func (p *Pipeline) AggregateKeywords(ctx context.Context, topK int) ([]*types.Keyword, error) {
	if topK <= 0 {
		topK = DefaultAggregateTopK
	}
	runID := p.Orch.Run().ID

	step, err := p.Orch.StartStep(ctx, types.StepKeywordAggregate)
	if err != nil {
		return nil, err
	}

	agg, err := p.aggregateKeywords(ctx, runID, topK)
	if err != nil {
		_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
		return nil, err
	}

	if err := p.Store.DeleteAggregateKeywords(ctx, runID); err != nil {
		_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
		return nil, err
	}
	for _, kw := range agg {
		if err := p.Store.UpsertKeyword(ctx, kw); err != nil {
			_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
			return nil, err
		}
	}

	if err := step.Finish(ctx, types.StepSuccess, map[string]any{"keywords": len(agg), "top_k": topK}); err != nil {
		return nil, err
	}
	return agg, nil
}

func (p *Pipeline) aggregateKeywords(ctx context.Context, runID string, topK int) ([]*types.Keyword, error) {
	top, err := p.Store.TopAnalysesByScore(ctx, runID, topK)
	if err != nil {
		return nil, err
	}
	scoreByRepo := make(map[string]float64, len(top))
	for _, a := range top {
		scoreByRepo[a.RepoFullName] = a.FinalScore
	}

	perRepo, err := p.Store.ListRepoKeywords(ctx, runID)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		kind types.KeywordKind
		term string
	}
	weights := map[bucket]float64{}
	for _, kw := range perRepo {
		score, ok := scoreByRepo[kw.RepoFullName]
		if !ok {
			continue
		}
		term := strings.ToLower(strings.TrimSpace(kw.Term))
		if term == "" {
			continue
		}
		weights[bucket{kind: kw.Kind, term: term}] += kw.Weight * score
	}

	agg := make([]*types.Keyword, 0, len(weights))
	for b, w := range weights {
		agg = append(agg, &types.Keyword{
			ID:     keywordID(runID, "", b.term, b.kind),
			RunID:  runID,
			Term:   b.term,
			Kind:   b.kind,
			Weight: scoring.Round6(w),
		})
	}
	sort.Slice(agg, func(i, j int) bool {
		if agg[i].Weight != agg[j].Weight {
			return agg[i].Weight > agg[j].Weight
		}
		if agg[i].Term != agg[j].Term {
			return agg[i].Term < agg[j].Term
		}
		return agg[i].Kind < agg[j].Kind
	})
	return agg, nil
}

// BuildPass2Queries derives pass-2 search terms from the sorted aggregate:
// every search_query term in order, then primary terms not already
// present, capped at maxQueries. First occurrence wins on duplicates.
func BuildPass2Queries(agg []*types.Keyword, maxQueries int) []string {
	if maxQueries <= 0 {
		maxQueries = DefaultMaxQueries
	}

	seen := map[string]bool{}
	var queries []string
	add := func(term string) {
		if len(queries) >= maxQueries || seen[term] {
			return
		}
		seen[term] = true
		queries = append(queries, term)
	}

	for _, kw := range agg {
		if kw.Kind == types.KeywordSearchQuery {
			add(kw.Term)
		}
	}
	for _, kw := range agg {
		if kw.Kind == types.KeywordPrimary {
			add(kw.Term)
		}
	}
	return queries
}
