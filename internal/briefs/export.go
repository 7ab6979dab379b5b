package briefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/scoutworks/cscout/internal/runlog"
	"github.com/scoutworks/cscout/internal/storage"
	"github.com/scoutworks/cscout/internal/types"
)

// ExportResult summarizes an export pass.
type ExportResult struct {
	RunID   string   `json:"run_id"`
	OutDir  string   `json:"out_dir"`
	Briefs  int      `json:"briefs"`
	TopN    int      `json:"top_n"`
	Files   []string `json:"files"`
}

// Export writes the run's briefs as Markdown: an index, one file per
// brief, one outreach draft per brief, and TOP_OPPORTUNITY_{n}.md for the
// top-N shortlisted briefs. Every file carries the review banner. The
// stored brief Markdown and outreach text are written as they are; export
// applies no redaction pass of its own.
func Export(ctx context.Context, store *storage.Store, orch *runlog.Orchestrator, outDir string, topN int) (*ExportResult, error) {
	runID := orch.Run().ID
	step, err := orch.StartStep(ctx, types.StepExportMarkdown)
	if err != nil {
		return nil, err
	}

	result, err := export(ctx, store, runID, outDir, topN)
	if err != nil {
		_ = step.Finish(ctx, types.StepFailed, map[string]any{"error": err.Error()})
		return nil, err
	}
	if err := step.Finish(ctx, types.StepSuccess, map[string]any{
		"briefs": result.Briefs, "files": len(result.Files),
	}); err != nil {
		return nil, err
	}
	return result, nil
}

func export(ctx context.Context, store *storage.Store, runID, outDir string, topN int) (*ExportResult, error) {
	briefs, err := store.ListBriefs(ctx, runID)
	if err != nil {
		return nil, err
	}

	briefsDir := filepath.Join(outDir, "briefs")
	if err := os.MkdirAll(briefsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	result := &ExportResult{RunID: runID, OutDir: outDir, Briefs: len(briefs), TopN: topN}
	write := func(path, content string) error {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		rel, relErr := filepath.Rel(outDir, path)
		if relErr != nil {
			rel = path
		}
		result.Files = append(result.Files, rel)
		return nil
	}

	var index strings.Builder
	fmt.Fprintf(&index, "# Collaboration briefs for run %s\n\n", runID)
	fmt.Fprintf(&index, "> %s\n\n", ReviewBanner)
	index.WriteString("| Brief | Score | Status | Repos |\n")
	index.WriteString("|-------|-------|--------|-------|\n")

	shortlistedRank := 0
	for _, b := range briefs {
		fmt.Fprintf(&index, "| [%s](briefs/%s.md) | %.6f | %s | %s |\n",
			b.ID, b.ID, b.Score, b.Status, strings.Join(b.RepoIDs, ", "))

		briefMD := fmt.Sprintf("> %s\n\n%s", ReviewBanner, b.Markdown)
		if err := write(filepath.Join(briefsDir, b.ID+".md"), briefMD); err != nil {
			return nil, err
		}
		if err := write(filepath.Join(briefsDir, b.ID+"_outreach.md"), b.Outreach); err != nil {
			return nil, err
		}

		if b.Status == types.BriefShortlisted && shortlistedRank < topN {
			shortlistedRank++
			top := fmt.Sprintf("> %s\n\n%s", ReviewBanner, b.Markdown)
			name := fmt.Sprintf("TOP_OPPORTUNITY_%d.md", shortlistedRank)
			if err := write(filepath.Join(outDir, name), top); err != nil {
				return nil, err
			}
		}
	}

	if err := write(filepath.Join(outDir, "index.md"), index.String()); err != nil {
		return nil, err
	}
	return result, nil
}
