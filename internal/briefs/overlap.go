package briefs

import (
	"regexp"
	"strings"

	"github.com/scoutworks/cscout/internal/scoring"
)

// Interop trigger tokens exempt a high-overlap pair from competitor
// rejection: projects that migrate, bridge, or benchmark against each
// other are collaborators, not competitors.
var interopTriggers = map[string]bool{
	"migration": true, "migrate": true, "interop": true,
	"compat": true, "compatibility": true, "adapter": true,
	"bridge": true, "benchmark": true, "benchmarks": true,
	"spec": true, "standard": true, "standards": true,
	"translator": true, "import": true, "export": true,
	"convert": true, "conversion": true,
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "are": true, "was": true,
	"its": true, "has": true, "have": true, "you": true, "your": true,
	"all": true, "any": true, "can": true, "not": true, "use": true,
	"using": true, "based": true, "via": true, "over": true, "out": true,
}

var tokenSplitRegex = regexp.MustCompile(`[^a-z0-9]+`)

// tokenize lowercases, splits on non-alphanumeric runs, and drops
// stopwords and tokens shorter than three characters.
func tokenize(s string) []string {
	var out []string
	for _, tok := range tokenSplitRegex.Split(strings.ToLower(s), -1) {
		if len(tok) < 3 || stopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func tokenSet(items ...string) map[string]bool {
	set := map[string]bool{}
	for _, item := range items {
		for _, tok := range tokenize(item) {
			set[tok] = true
		}
	}
	return set
}

// Signature is the token-set fingerprint of one repo's analysis output,
// used by the functional-overlap filter.
type Signature struct {
	Problem map[string]bool
	Surface map[string]bool
	Primary map[string]bool
	// Triggers covers keywords (all kinds) and surfaces; the interop
	// exemption scans it.
	Triggers map[string]bool
}

// NewSignature extracts the fingerprint from a pool entry.
func NewSignature(e *PoolEntry) *Signature {
	out := e.Output
	sig := &Signature{
		Problem: tokenSet(out.Signals.ProblemSummary),
		Surface: lowerSet(out.Signals.IntegrationSurface),
		Primary: lowerSet(out.Keywords.Primary),
		Triggers: tokenSet(append(append(append(
			append([]string{}, out.Keywords.Primary...),
			out.Keywords.Secondary...),
			out.Keywords.SearchQueries...),
			out.Signals.IntegrationSurface...)...),
	}
	return sig
}

// FilterResult is the decision for one candidate pair.
type FilterResult struct {
	FunctionalOverlap  float64 `json:"functional_overlap"`
	Rejected           bool    `json:"rejected"`
	ExceptionTriggered bool    `json:"exception_triggered"`
	ExceptionReason    string  `json:"exception_reason,omitempty"`
	PenaltyApplied     float64 `json:"penalty_applied"`
}

// FilterPair decides whether two repos are functional competitors.
//
//	functional_overlap = 0.45 sim(problem) + 0.35 sim(surface) + 0.20 sim(primary)
//
// Below threshold: allowed, no penalty. At or above threshold: allowed
// with the exception penalty when either side carries an interop trigger
// token, rejected otherwise.
func FilterPair(a, b *Signature, threshold, penalty float64) FilterResult {
	overlap := scoring.Round6(
		0.45*jaccard(a.Problem, b.Problem) +
			0.35*jaccard(a.Surface, b.Surface) +
			0.20*jaccard(a.Primary, b.Primary))

	res := FilterResult{FunctionalOverlap: overlap}
	if overlap < threshold {
		return res
	}

	if hasTrigger(a.Triggers) || hasTrigger(b.Triggers) {
		res.ExceptionTriggered = true
		res.ExceptionReason = "interop_exception"
		res.PenaltyApplied = penalty
		return res
	}

	res.Rejected = true
	return res
}

func hasTrigger(tokens map[string]bool) bool {
	for tok := range tokens {
		if interopTriggers[tok] {
			return true
		}
	}
	return false
}
