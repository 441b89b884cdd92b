package graph

import (
	"fmt"
	"strings"

	"github.com/buildforge/conduct/pkg/models"
)

// ToMermaid renders the plan as a deterministic Mermaid flowchart, grouping
// tasks into subgraphs per batch.
func ToMermaid(plan *models.Plan) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	for bi, batch := range plan.Batches {
		fmt.Fprintf(&b, "  subgraph batch%d[\"Batch %d\"]\n", bi, bi)
		for _, id := range batch {
			fmt.Fprintf(&b, "    %s[\"%s\"]\n", mermaidID(id), id)
		}
		b.WriteString("  end\n")
	}

	if len(plan.CircularDeps) > 0 {
		for ci, comp := range plan.CircularDeps {
			fmt.Fprintf(&b, "  subgraph cycle%d[\"Circular dependency\"]\n", ci)
			for _, id := range comp {
				fmt.Fprintf(&b, "    %s[\"%s\"]\n", mermaidID(id), id)
			}
			b.WriteString("  end\n")
		}
	}

	return b.String()
}

func mermaidID(taskID string) string {
	replacer := strings.NewReplacer("-", "_", ".", "_", "/", "_")
	return "n" + replacer.Replace(taskID)
}

// ToASCII renders the plan as a deterministic plain-text tree: a header line
// per batch followed by one line per task, in resolved intra-batch order.
func ToASCII(plan *models.Plan) string {
	var b strings.Builder

	if plan.HasCycle() {
		b.WriteString("CIRCULAR DEPENDENCIES DETECTED:\n")
		for ci, comp := range plan.CircularDeps {
			fmt.Fprintf(&b, "  cycle %d: %s\n", ci, strings.Join(comp, " -> "))
		}
		return b.String()
	}

	for bi, batch := range plan.Batches {
		fmt.Fprintf(&b, "Batch %d:\n", bi)
		for _, id := range batch {
			fmt.Fprintf(&b, "  - %s\n", id)
		}
	}

	if len(plan.MissingDeps) > 0 {
		b.WriteString("Missing dependencies:\n")
		for _, m := range plan.MissingDeps {
			fmt.Fprintf(&b, "  - %s depends on missing %s\n", m.TaskID, m.MissingID)
		}
	}

	return b.String()
}
