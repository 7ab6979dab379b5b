package briefs

import (
	"sort"
	"strings"

	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/scoring"
	"github.com/scoutworks/cscout/internal/types"
)

// PoolEntry joins everything candidate generation needs about one repo.
type PoolEntry struct {
	Repo     *types.Repo
	Analysis *types.Analysis
	Output   *llm.RepoAnalysisOutput
}

// Candidate is one unordered repo group with its overlap score. Names is
// sorted; Key is the canonical comma-joined form used for tie-breaking.
type Candidate struct {
	Names   []string
	Key     string
	Entries []*PoolEntry
	Overlap float64
}

// qualify filters the pool by the brief thresholds and sorts it by repo
// full name so enumeration order is deterministic.
func qualify(pool []*PoolEntry, minRepoScore, minCollab float64) []*PoolEntry {
	var out []*PoolEntry
	for _, e := range pool {
		if e.Analysis.FinalScore >= minRepoScore &&
			e.Analysis.Scores.CollaborationPotential >= minCollab {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Repo.FullName < out[j].Repo.FullName
	})
	return out
}

// CandidateGroups enumerates all unordered pairs (and triples when
// enabled) from the qualified pool, up to maxCombos, scores each group's
// overlap, and returns them sorted by overlap descending then canonical
// key ascending. The same inputs always yield the same groups in the same
// order.
func CandidateGroups(pool []*PoolEntry, minRepoScore, minCollab float64, includeTriples bool, maxCombos int) []*Candidate {
	qualified := qualify(pool, minRepoScore, minCollab)

	var groups []*Candidate
	emit := func(entries ...*PoolEntry) bool {
		if len(groups) >= maxCombos {
			return false
		}
		groups = append(groups, newCandidate(entries))
		return true
	}

enumerate:
	for i := 0; i < len(qualified); i++ {
		for j := i + 1; j < len(qualified); j++ {
			if !emit(qualified[i], qualified[j]) {
				break enumerate
			}
			if !includeTriples {
				continue
			}
			for k := j + 1; k < len(qualified); k++ {
				if !emit(qualified[i], qualified[j], qualified[k]) {
					break enumerate
				}
			}
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Overlap != groups[j].Overlap {
			return groups[i].Overlap > groups[j].Overlap
		}
		return groups[i].Key < groups[j].Key
	})
	return groups
}

func newCandidate(entries []*PoolEntry) *Candidate {
	sorted := make([]*PoolEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Repo.FullName < sorted[j].Repo.FullName
	})

	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = e.Repo.FullName
	}

	// A pair scores directly; a triple averages its three internal pairs.
	var overlap float64
	switch len(sorted) {
	case 2:
		overlap = pairOverlap(sorted[0], sorted[1])
	default:
		sum := 0.0
		n := 0
		for i := 0; i < len(sorted); i++ {
			for j := i + 1; j < len(sorted); j++ {
				sum += pairOverlap(sorted[i], sorted[j])
				n++
			}
		}
		overlap = scoring.Round6(sum / float64(n))
	}

	return &Candidate{
		Names:   names,
		Key:     strings.Join(names, ","),
		Entries: sorted,
		Overlap: overlap,
	}
}

// pairOverlap combines the four affinity signals:
// 0.4 topic Jaccard + 0.2 language match + 0.2 surface Jaccard +
// 0.2 complement bonus when exactly one side exposes an api/sdk surface.
func pairOverlap(a, b *PoolEntry) float64 {
	score := jaccard(stringSet(a.Repo.Topics), stringSet(b.Repo.Topics)) * 0.4

	if a.Repo.Language != "" && a.Repo.Language == b.Repo.Language {
		score += 0.2
	}

	surfA := lowerSet(a.Output.Signals.IntegrationSurface)
	surfB := lowerSet(b.Output.Signals.IntegrationSurface)
	score += jaccard(surfA, surfB) * 0.2

	if hasAPIOrSDKToken(surfA) != hasAPIOrSDKToken(surfB) {
		score += 0.2
	}

	return scoring.Round6(score)
}

func hasAPIOrSDKToken(surfaces map[string]bool) bool {
	return surfaces["api"] || surfaces["sdk"]
}

func stringSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

func lowerSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[strings.ToLower(s)] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for s := range a {
		if b[s] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
