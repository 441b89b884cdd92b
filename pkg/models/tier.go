// Package models holds the shared entity types for the orchestrator: tasks,
// epics, the execution plan, worktrees, batches, in-memory running agents,
// cost records, and learned expertise files.
package models

// Tier is a price/quality band for the external AI agent.
type Tier string

const (
	// TierHaiku is the lightweight, fast, cheap tier.
	TierHaiku Tier = "haiku"
	// TierSonnet is the balanced tier for standard work.
	TierSonnet Tier = "sonnet"
	// TierOpus is the most capable, most expensive tier.
	TierOpus Tier = "opus"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierHaiku, TierSonnet, TierOpus:
		return true
	default:
		return false
	}
}

// Cheaper returns true if t is strictly cheaper than other.
func (t Tier) Cheaper(other Tier) bool {
	return t.rank() < other.rank()
}

func (t Tier) rank() int {
	switch t {
	case TierHaiku:
		return 0
	case TierSonnet:
		return 1
	case TierOpus:
		return 2
	default:
		return -1
	}
}

// CheaperTiers returns the tiers cheaper than t, ordered cheapest-first.
// Used by the budget downgrade path in the model selector.
func (t Tier) CheaperTiers() []Tier {
	all := []Tier{TierHaiku, TierSonnet, TierOpus}
	r := t.rank()
	var out []Tier
	for _, c := range all {
		if c.rank() < r {
			out = append(out, c)
		}
	}
	return out
}
