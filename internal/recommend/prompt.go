package recommend

import (
	"strings"

	"insightpipe/internal/domain"
)

const guidelines = `Impact rubric:
- high: affects core functionality, revenue or retention
- medium: affects the experience but is not critical
- low: nice to have

Urgency rubric:
- immediate: should be fixed within 1-2 weeks
- soon: should be fixed within 1-2 months
- later: fix when resources allow`

const responseSchema = `Respond with exactly one JSON object with exactly these four string fields and no others:
{
  "recommendation": "<one concrete improvement the team should make>",
  "impact": "low" | "medium" | "high",
  "urgency": "later" | "soon" | "immediate",
  "cluster_summary": "<one or two sentences summarising the feedback>"
}`

// BuildPrompt renders the reasoning request for one cluster.
func BuildPrompt(c domain.Cluster) string {
	descriptions := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		descriptions = append(descriptions, strings.TrimSpace(m.Description))
	}

	var b strings.Builder
	b.WriteString("A group of customers left related feedback.\n\n")
	b.WriteString("Cluster label: ")
	b.WriteString(c.Label)
	b.WriteString("\n\nFeedback: ")
	b.WriteString(strings.Join(descriptions, "; "))
	b.WriteString("\n\nRecommend the single most valuable improvement and rate it.\n\n")
	b.WriteString(guidelines)
	b.WriteString("\n\n")
	b.WriteString(responseSchema)
	return b.String()
}
