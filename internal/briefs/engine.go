// Package briefs turns a run's analyses into ranked 2-4-repo
// collaboration briefs: deterministic candidate grouping, a
// functional-overlap competitor filter, LLM synthesis, deterministic
// scoring, and a read-only replay of stored scores.
package briefs

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/runlog"
	"github.com/scoutworks/cscout/internal/scoring"
	"github.com/scoutworks/cscout/internal/storage"
	"github.com/scoutworks/cscout/internal/types"
)

const (
	DefaultMaxBriefs         = 50
	DefaultMaxCombos         = 200
	DefaultHistoryCandidates = 100

	promptBriefGenerate = "brief_generate"
	promptVersion       = "v1"
)

// Engine wires the brief generation collaborators.
type Engine struct {
	Store   *storage.Store
	LLM     *llm.Client
	Orch    *runlog.Orchestrator
	Policy  *scoring.Policy
	Prompts fs.FS
	Now     func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// GenerateParams tune one generation pass. Zero values of the thresholds,
// the overlap knobs, MaxBriefs and MaxCombos fall back to the scoring
// policy's thresholds and the package defaults; a zero HistoryCandidates
// disables historical injection.
type GenerateParams struct {
	MinBriefScore      float64
	MinRepoScore       float64
	MinCollabPotential float64
	OverlapThreshold   float64
	OverlapPenalty     float64
	MaxBriefs          int
	MaxCombos          int
	HistoryCandidates  int
	IncludeTriples     bool
	OwnRepo            string
	Model              string
}

func (e *Engine) applyDefaults(p *GenerateParams) {
	if p.MinBriefScore <= 0 {
		p.MinBriefScore = e.Policy.Thresholds.MinBriefScore
	}
	if p.MinRepoScore <= 0 {
		p.MinRepoScore = e.Policy.Thresholds.MinRepoScoreForBrief
	}
	if p.MinCollabPotential <= 0 {
		p.MinCollabPotential = e.Policy.Thresholds.MinCollaborationPotentialForBrief
	}
	if p.OverlapThreshold <= 0 {
		p.OverlapThreshold = 0.70
	}
	if p.OverlapPenalty <= 0 {
		p.OverlapPenalty = 0.10
	}
	if p.MaxBriefs <= 0 {
		p.MaxBriefs = DefaultMaxBriefs
	}
	if p.MaxCombos <= 0 {
		p.MaxCombos = DefaultMaxCombos
	}
	if p.HistoryCandidates < 0 {
		p.HistoryCandidates = 0
	}
}

// GenerateResult summarizes a generation pass for the CLI.
type GenerateResult struct {
	RunID         string   `json:"run_id"`
	Candidates    int      `json:"candidates"`
	PairsRejected int      `json:"pairs_rejected"`
	Generated     int      `json:"generated"`
	Shortlisted   int      `json:"shortlisted"`
	Failed        int      `json:"failed"`
	BriefIDs      []string `json:"brief_ids"`
}

// Generate builds the candidate pool (optionally injecting historical
// analyses), filters competitor pairs, synthesizes briefs through the LLM,
// scores them deterministically, and persists the results.
func (e *Engine) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	e.applyDefaults(&params)
	runID := e.Orch.Run().ID
	result := &GenerateResult{RunID: runID}

	step, err := e.Orch.StartStep(ctx, types.StepLLMBriefGenerate)
	if err != nil {
		return nil, err
	}

	if err := e.generate(ctx, params, result); err != nil {
		_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
		return nil, err
	}

	status := types.StepSuccess
	if result.Generated == 0 && result.Failed > 0 {
		status = types.StepFailed
	}
	stats := map[string]any{
		"candidates":     result.Candidates,
		"pairs_rejected": result.PairsRejected,
		"generated":      result.Generated,
		"shortlisted":    result.Shortlisted,
		"failed":         result.Failed,
	}
	if err := step.Finish(ctx, status, stats); err != nil {
		return nil, err
	}
	if status == types.StepFailed {
		return result, fmt.Errorf("brief generation failed for every candidate (%d failures)", result.Failed)
	}
	return result, nil
}

func (e *Engine) generate(ctx context.Context, params GenerateParams, result *GenerateResult) error {
	pool, err := e.buildPool(ctx, params.HistoryCandidates)
	if err != nil {
		return err
	}

	groups := CandidateGroups(pool, params.MinRepoScore, params.MinCollabPotential,
		params.IncludeTriples, params.MaxCombos)
	result.Candidates = len(groups)

	signatures := make(map[string]*Signature, len(pool))
	for _, entry := range pool {
		signatures[entry.Repo.FullName] = NewSignature(entry)
	}

	prompt, err := llm.LoadPrompt(e.Prompts, promptBriefGenerate, promptVersion)
	if err != nil {
		return err
	}

	shortlisted := map[string]bool{}
	for _, group := range groups {
		if result.Generated >= params.MaxBriefs {
			break
		}
		if containsShortlisted(group, shortlisted) {
			continue
		}

		penalty, ok := e.filterGroup(ctx, group, signatures, params, result)
		if !ok {
			continue
		}

		if err := e.synthesize(ctx, prompt, group, penalty, params, result, shortlisted); err != nil {
			return err
		}
	}
	return nil
}

// buildPool loads the run's analyses plus, when configured, the top
// historical analyses from other runs (one per repo, current-run repos
// excluded).
func (e *Engine) buildPool(ctx context.Context, historyCandidates int) ([]*PoolEntry, error) {
	runID := e.Orch.Run().ID

	analyses, err := e.Store.ListAnalysesByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if historyCandidates > 0 {
		hist, err := e.Store.TopAnalysesFromOtherRuns(ctx, runID, historyCandidates)
		if err != nil {
			return nil, err
		}
		if len(hist) > 0 {
			e.Orch.Audit(ctx, "info", types.StepLLMBriefGenerate, "briefs.history.injected",
				"historical analyses joined the candidate pool", map[string]any{"count": len(hist)})
			analyses = append(analyses, hist...)
		}
	}

	pool := make([]*PoolEntry, 0, len(analyses))
	for _, a := range analyses {
		repo, err := e.Store.GetRepo(ctx, a.RepoFullName)
		if err != nil {
			return nil, err
		}
		if repo == nil {
			return nil, fmt.Errorf("analysis %d references missing repo %s", a.ID, a.RepoFullName)
		}
		out, err := llm.ValidateRepoAnalysis(a.Output)
		if err != nil {
			return nil, fmt.Errorf("stored analysis for %s is invalid: %w", a.RepoFullName, err)
		}
		pool = append(pool, &PoolEntry{Repo: repo, Analysis: a, Output: out})
	}
	return pool, nil
}

func containsShortlisted(group *Candidate, shortlisted map[string]bool) bool {
	for _, name := range group.Names {
		if shortlisted[name] {
			return true
		}
	}
	return false
}

// filterGroup runs the competitor filter over every internal pair. Returns
// the penalty to apply and whether the group survives.
func (e *Engine) filterGroup(ctx context.Context, group *Candidate, signatures map[string]*Signature, params GenerateParams, result *GenerateResult) (float64, bool) {
	penalty := 0.0
	for i := 0; i < len(group.Names); i++ {
		for j := i + 1; j < len(group.Names); j++ {
			a, b := group.Names[i], group.Names[j]
			res := FilterPair(signatures[a], signatures[b], params.OverlapThreshold, params.OverlapPenalty)
			switch {
			case res.Rejected:
				result.PairsRejected++
				e.Orch.Audit(ctx, "info", types.StepLLMBriefGenerate, "briefs.pair_rejected_overlap",
					"pair rejected as functional competitors", map[string]any{
						"pair": a + "," + b, "functional_overlap": res.FunctionalOverlap,
					})
				return 0, false
			case res.ExceptionTriggered:
				if res.PenaltyApplied > penalty {
					penalty = res.PenaltyApplied
				}
				e.Orch.Audit(ctx, "info", types.StepLLMBriefGenerate, "briefs.pair_allowed_exception",
					"high-overlap pair allowed via interop exception", map[string]any{
						"pair": a + "," + b, "functional_overlap": res.FunctionalOverlap,
						"penalty": res.PenaltyApplied, "reason": res.ExceptionReason,
					})
			}
		}
	}
	return penalty, true
}

// briefRepoView is the compact deterministic repo description handed to
// the synthesis prompt. Field order is fixed by the struct.
type briefRepoView struct {
	FullName           string   `json:"full_name"`
	Stars              int      `json:"stars"`
	Language           string   `json:"language,omitempty"`
	Topics             []string `json:"topics,omitempty"`
	License            string   `json:"license,omitempty"`
	ProblemSummary     string   `json:"problem_summary,omitempty"`
	WhoIsItFor         string   `json:"who_is_it_for,omitempty"`
	IntegrationSurface []string `json:"integration_surface,omitempty"`
	FinalScore         float64  `json:"final_score"`
}

func (e *Engine) synthesize(ctx context.Context, prompt *llm.Prompt, group *Candidate, penalty float64, params GenerateParams, result *GenerateResult, shortlisted map[string]bool) error {
	views := make([]briefRepoView, len(group.Entries))
	for i, entry := range group.Entries {
		views[i] = briefRepoView{
			FullName:           entry.Repo.FullName,
			Stars:              entry.Repo.Stars,
			Language:           entry.Repo.Language,
			Topics:             entry.Repo.Topics,
			License:            entry.Repo.License,
			ProblemSummary:     entry.Output.Signals.ProblemSummary,
			WhoIsItFor:         entry.Output.Signals.WhoIsItFor,
			IntegrationSurface: entry.Output.Signals.IntegrationSurface,
			FinalScore:         entry.Analysis.FinalScore,
		}
	}
	reposJSON, err := json.Marshal(views)
	if err != nil {
		return err
	}

	raw, err := e.LLM.Complete(ctx, llm.ChatRequest{
		Model:       params.Model,
		User:        llm.Render(prompt.Body, map[string]string{"repos_json": string(reposJSON)}),
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	var out *llm.BriefOutput
	if err == nil {
		out, err = llm.ValidateBrief(raw)
	}
	if err != nil {
		result.Failed++
		e.Orch.Audit(ctx, "error", types.StepLLMBriefGenerate, "llm.output.invalid_json",
			"brief synthesis produced invalid output", map[string]any{
				"group": group.Key, "error": err.Error(),
			})
		return nil
	}

	score := e.briefScore(group, penalty)
	status := types.BriefRejectedByThreshold
	if score >= params.MinBriefScore {
		status = types.BriefShortlisted
	}

	brief := &types.Brief{
		ID:        uuid.NewString(),
		RunID:     e.Orch.Run().ID,
		Score:     score,
		RepoIDs:   group.Names,
		Content:   raw,
		Markdown:  renderBriefMarkdown(score, out),
		Outreach:  renderOutreach(out),
		Status:    status,
		CreatedAt: e.now().UTC(),
	}
	if err := e.Store.InsertBrief(ctx, brief); err != nil {
		return err
	}

	result.Generated++
	result.BriefIDs = append(result.BriefIDs, brief.ID)
	if status == types.BriefShortlisted {
		result.Shortlisted++
		// Anchor dedup: shortlisted repos sit out later groups so each
		// repo headlines at most one brief. The user's own repo is exempt.
		for _, name := range group.Names {
			if name != params.OwnRepo {
				shortlisted[name] = true
			}
		}
	}
	return nil
}

// briefScore combines the deterministic components:
// 0.4 avg(final) + 0.4 avg(collab) + 0.2 max(0, overlap - penalty).
// The penalty subtracts before the clamp; that ordering is preserved from
// the scoring contract.
func (e *Engine) briefScore(group *Candidate, penalty float64) float64 {
	var sumFinal, sumCollab float64
	for _, entry := range group.Entries {
		sumFinal += entry.Analysis.FinalScore
		sumCollab += entry.Analysis.Scores.CollaborationPotential
	}
	n := float64(len(group.Entries))
	overlapTerm := group.Overlap - penalty
	if overlapTerm < 0 {
		overlapTerm = 0
	}
	return scoring.Round6(0.4*(sumFinal/n) + 0.4*(sumCollab/n) + 0.2*overlapTerm)
}
