package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/types"
)

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// analyzeStep runs the llm_repo_analysis step over every repo in repos
// that has a README and no analysis for this run. Returns analyzed/failed
// counts; the step is marked failed only when every attempted repo failed.
func (p *Pipeline) analyzeStep(ctx context.Context, model string, excerptLen int, repos []string) (int, int, error) {
	step, err := p.Orch.StartStep(ctx, types.StepLLMRepoAnalysis)
	if err != nil {
		return 0, 0, err
	}

	analyzed, failed, skipped := 0, 0, 0
	for _, fullName := range repos {
		outcome, err := p.analyzeRepo(ctx, model, excerptLen, fullName)
		if err != nil {
			_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
			return analyzed, failed, err
		}
		switch outcome {
		case analyzeDone:
			analyzed++
		case analyzeSkipped:
			skipped++
		default:
			failed++
		}
	}

	status := types.StepSuccess
	if failed > 0 && analyzed == 0 {
		status = types.StepFailed
	}
	stats := map[string]any{"analyzed": analyzed, "failed": failed, "skipped": skipped}
	if err := step.Finish(ctx, status, stats); err != nil {
		return analyzed, failed, err
	}
	return analyzed, failed, nil
}

type analyzeOutcome int

const (
	analyzeDone analyzeOutcome = iota
	analyzeSkipped
	analyzeFailed
)

// analyzeRepo runs one (repo, run) analysis. Skips repos without a README
// or with an existing analysis; at most one analysis exists per pair.
// LLM and validation failures are audited and counted, not propagated;
// store failures propagate.
func (p *Pipeline) analyzeRepo(ctx context.Context, model string, excerptLen int, fullName string) (analyzeOutcome, error) {
	runID := p.Orch.Run().ID

	has, err := p.Store.HasAnalysis(ctx, runID, fullName)
	if err != nil {
		return analyzeFailed, err
	}
	if has {
		return analyzeSkipped, nil
	}
	readme, err := p.Store.GetReadme(ctx, fullName)
	if err != nil {
		return analyzeFailed, err
	}
	if readme == nil {
		return analyzeSkipped, nil
	}
	repo, err := p.Store.GetRepo(ctx, fullName)
	if err != nil {
		return analyzeFailed, err
	}
	if repo == nil {
		return analyzeFailed, fmt.Errorf("repo %s has a readme but no repo row", fullName)
	}

	prompt, err := llm.LoadPrompt(p.Prompts, promptRepoAnalysis, promptVersion)
	if err != nil {
		return analyzeFailed, err
	}

	excerpt := string(readme.Content)
	if len(excerpt) > excerptLen {
		excerpt = excerpt[:excerptLen]
	}

	if model == "" {
		model = p.LLM.Model()
	}
	user := llm.Render(prompt.Body, map[string]string{
		"repo_full_name": repo.FullName,
		"stars":          strconv.Itoa(repo.Stars),
		"language":       repo.Language,
		"topics":         strings.Join(repo.Topics, ", "),
		"license":        repo.License,
		"pushed_at":      repo.PushedAt.UTC().Format("2006-01-02"),
		"readme_excerpt": excerpt,
	})

	raw, err := p.LLM.Complete(ctx, llm.ChatRequest{
		Model:       model,
		User:        user,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err == nil {
		var out *llm.RepoAnalysisOutput
		out, err = llm.ValidateRepoAnalysis(raw)
		if err == nil {
			if storeErr := p.storeAnalysis(ctx, repo, readme, prompt, model, len(excerpt), raw, out); storeErr != nil {
				return analyzeFailed, storeErr
			}
			return analyzeDone, nil
		}
	}

	p.Orch.Audit(ctx, "error", types.StepLLMRepoAnalysis, "llm.output.invalid_json",
		"llm analysis produced invalid output", map[string]any{
			"repo": fullName, "model": model, "error": err.Error(),
		})
	return analyzeFailed, nil
}

func (p *Pipeline) storeAnalysis(ctx context.Context, repo *types.Repo, readme *types.Readme, prompt *llm.Prompt, model string, excerptLen int, raw []byte, out *llm.RepoAnalysisOutput) error {
	runID := p.Orch.Run().ID
	scores := types.LLMScores{
		Interestingness:        out.Scores.Interestingness,
		Novelty:                out.Scores.Novelty,
		CollaborationPotential: out.Scores.CollaborationPotential,
	}
	finalScore := p.Policy.FinalScore(scores, out)

	analysis := &types.Analysis{
		RunID:         runID,
		RepoFullName:  repo.FullName,
		Model:         model,
		PromptID:      prompt.ID,
		PromptVersion: prompt.Version,
		Input: map[string]any{
			"readme_sha256": readme.SHA256,
			"excerpt_len":   excerptLen,
		},
		Output:     raw,
		Scores:     scores,
		FinalScore: finalScore,
		Reasons: map[string][]string{
			"interestingness":         out.Reasons.Interestingness,
			"novelty":                 out.Reasons.Novelty,
			"collaboration_potential": out.Reasons.CollaborationPotential,
		},
		CreatedAt: p.now().UTC(),
	}
	if _, err := p.Store.InsertAnalysis(ctx, analysis); err != nil {
		return err
	}

	for kind, terms := range map[types.KeywordKind][]string{
		types.KeywordPrimary:     out.Keywords.Primary,
		types.KeywordSecondary:   out.Keywords.Secondary,
		types.KeywordSearchQuery: out.Keywords.SearchQueries,
	} {
		for _, term := range terms {
			kw := &types.Keyword{
				ID:           keywordID(runID, repo.FullName, term, kind),
				RunID:        runID,
				RepoFullName: repo.FullName,
				Term:         term,
				Kind:         kind,
				Weight:       1.0,
			}
			if err := p.Store.UpsertKeyword(ctx, kw); err != nil {
				return err
			}
		}
	}
	return nil
}

// keywordID is the content hash keying a keyword row: identical
// (run, repo, term, kind) tuples collapse to one row.
func keywordID(runID, repo, term string, kind types.KeywordKind) string {
	return sha256Hex([]byte(runID + "|" + repo + "|" + term + "|" + string(kind)))
}
