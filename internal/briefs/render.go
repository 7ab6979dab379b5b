package briefs

import (
	"fmt"
	"strings"

	"github.com/scoutworks/cscout/internal/llm"
)

// ReviewBanner must lead every outreach draft and exported file.
const ReviewBanner = "Manual review required. This tool does not post automatically."

func renderBriefMarkdown(score float64, out *llm.BriefOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Score: %.6f**\n\n", score)
	fmt.Fprintf(&b, "# %s\n\n", out.Title)
	fmt.Fprintf(&b, "%s\n\n", out.Concept)
	b.WriteString("## Repositories\n\n")
	for _, r := range out.Repos {
		fmt.Fprintf(&b, "### %s\n\n", r.FullName)
		if r.IntegrationRole != "" {
			fmt.Fprintf(&b, "*Role: %s*\n\n", r.IntegrationRole)
		}
		if r.WhyItFits != "" {
			fmt.Fprintf(&b, "%s\n\n", r.WhyItFits)
		}
	}
	return b.String()
}

func renderOutreach(out *llm.BriefOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "> %s\n\n", ReviewBanner)
	b.WriteString(out.OutreachMessage)
	b.WriteString("\n")
	return b.String()
}
