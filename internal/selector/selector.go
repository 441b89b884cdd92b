// Package selector implements the ModelSelector: weighted complexity
// scoring of a task maps to a model tier, subject to budget enforcement
// and a selection precedence chain. Grounded on the teacher's
// internal/orchestrator/tier_keywords.go (keyword-confidence scoring
// idiom) and internal/orchestrator/budget.go (threshold-based budget
// status), generalized from the teacher's agent-autonomy tiers
// (quick/scout/builder/architect) to spec.md §4.E's model-price tiers
// (haiku/sonnet/opus), and from keyword-only classification to the
// weighted four-factor score spec.md requires.
package selector

import (
	"strconv"
	"strings"
	"sync"

	"github.com/buildforge/conduct/internal/errs"
	"github.com/buildforge/conduct/pkg/models"
)

// Pricing holds per-million-token costs for a tier's model, grounded on
// internal/agent/tokens.go's DefaultModelPricing table.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing mirrors the teacher's known-model pricing table, keyed by
// tier instead of by raw model ID.
var DefaultPricing = map[models.Tier]Pricing{
	models.TierHaiku:  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	models.TierSonnet: {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	models.TierOpus:   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
}

// weights for the four-factor complexity score, summing to 1.0 per
// spec.md §4.E.
const (
	weightReasoningDepth    = 0.35
	weightCodeComplexity    = 0.25
	weightDomainSpecificity = 0.25
	weightContextRequirements = 0.15
)

// reasoningKeywords, codeComplexityKeywords, and domainKeywords classify
// task text into the four scoring factors, grounded on the teacher's
// DefaultTierKeywords groupings (Architect -> reasoning/domain signals,
// Scout -> low reasoning, Quick -> low everything).
var reasoningKeywords = []string{
	"design", "architect", "redesign", "rearchitect", "tradeoff", "strategy",
}
var codeComplexityKeywords = []string{
	"refactor", "migrate", "migration", "rewrite", "overhaul", "restructure", "concurrency",
}
var domainKeywords = []string{
	"auth", "authentication", "security", "schema", "database", "infra", "infrastructure",
}
var lowComplexityKeywords = []string{
	"typo", "rename", "formatting", "comment", "fix typo",
}

// Thresholds dividing a [0,1] weighted score into a tier, per spec.md
// §4.E: below Sonnet goes to haiku, below Opus goes to sonnet, the rest
// to opus.
const (
	SonnetThreshold = 0.35
	OpusThreshold   = 0.70
)

// Score is the per-factor breakdown backing a tier decision, returned so
// callers (and tests) can see why a task landed on a tier.
type Score struct {
	ReasoningDepth      float64
	CodeComplexity      float64
	DomainSpecificity   float64
	ContextRequirements float64
	Weighted            float64
}

// Decision is the result of selecting a tier for a task.
type Decision struct {
	Tier   models.Tier
	Score  Score
	Reason string
}

// Selector chooses a model tier for a task, applying (in order) a forced
// override, a per-task-type rule, a per-epic-priority rule, budget
// enforcement, and finally complexity-based scoring, per spec.md §4.E's
// precedence chain.
type Selector struct {
	mu sync.Mutex

	forceModel     models.Tier // empty means unset
	taskTypeTiers  map[string]models.Tier
	priorityTiers  map[int]models.Tier
	pricing        map[models.Tier]Pricing
	sonnetThreshold float64
	opusThreshold   float64

	budgetTotal float64
	budgetSpent float64

	outcomes []Outcome
}

// Outcome records what tier a task actually ran at and what it cost, fed
// back via RecordOutcome for later expertise/learning consumption.
type Outcome struct {
	TaskID string
	Tier   models.Tier
	Cost   float64
}

// New creates a Selector with the teacher's default pricing table and no
// budget limit (budget enforcement only applies once SetBudget is called
// with a positive value).
func New() *Selector {
	return &Selector{
		taskTypeTiers:   make(map[string]models.Tier),
		priorityTiers:   make(map[int]models.Tier),
		pricing:         DefaultPricing,
		sonnetThreshold: SonnetThreshold,
		opusThreshold:   OpusThreshold,
	}
}

// SetForceModel pins every selection to tier, bypassing all scoring. Pass
// an empty Tier to clear the override.
func (s *Selector) SetForceModel(tier models.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceModel = tier
}

// SetTaskTypeTier pins every task whose Action matches taskType to tier.
func (s *Selector) SetTaskTypeTier(taskType string, tier models.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskTypeTiers[taskType] = tier
}

// SetBudget sets the total token-cost budget in dollars; zero disables
// enforcement.
func (s *Selector) SetBudget(total float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgetTotal = total
}

// SetPricing overrides the default per-tier pricing table.
func (s *Selector) SetPricing(p map[models.Tier]Pricing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricing = p
}

// SetPriorityTier pins every task whose epic has the given priority to
// tier, per spec.md §6's cost.priority_overrides.<priority> key. Priority 0
// is already pinned to opus unconditionally by Select; an override
// registered here for priority 0 has no effect.
func (s *Selector) SetPriorityTier(priority int, tier models.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priorityTiers[priority] = tier
}

// SetComplexityThresholds overrides the weighted-score cutoffs that divide
// tasks into haiku/sonnet/opus, per spec.md §6's
// cost.complexity_thresholds.{haiku_max, opus_min} keys. haikuMax must be
// <= opusMin; callers are expected to validate this at config-load time.
func (s *Selector) SetComplexityThresholds(haikuMax, opusMin float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sonnetThreshold = haikuMax
	s.opusThreshold = opusMin
}

// Select chooses a tier for task within epic, applying the full
// precedence chain.
func (s *Selector) Select(task *models.Task, epic *models.Epic) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.forceModel != "" {
		return Decision{Tier: s.forceModel, Reason: "force_model override"}, nil
	}

	if tier, ok := s.taskTypeTiers[task.Action]; ok {
		return Decision{Tier: tier, Reason: "task_type rule for " + task.Action}, nil
	}

	if epic != nil && epic.Priority == 0 {
		// Priority 0 epics are the highest-priority work in the batch;
		// spec.md §4.E pins these to opus regardless of complexity score.
		return Decision{Tier: models.TierOpus, Reason: "epic priority 0"}, nil
	}

	if epic != nil {
		if tier, ok := s.priorityTiers[epic.Priority]; ok {
			return Decision{Tier: tier, Reason: "priority_override for priority " + strconv.Itoa(epic.Priority)}, nil
		}
	}

	score := scoreTask(task)
	tier := s.tierForScore(score.Weighted)

	if s.budgetTotal > 0 {
		for {
			cost := s.estimatedCost(tier, task)
			if s.budgetSpent+cost <= s.budgetTotal {
				break
			}
			cheaper := tier.CheaperTiers()
			if len(cheaper) == 0 {
				return Decision{}, errs.ErrBudgetExhausted
			}
			// CheaperTiers is ordered cheapest-first; step down one tier at
			// a time by taking the most expensive of the remaining cheaper
			// tiers, not the cheapest available.
			tier = cheaper[len(cheaper)-1]
		}
	}

	return Decision{Tier: tier, Score: score, Reason: "complexity score"}, nil
}

// estimatedCost approximates a task's dollar cost at tier from its
// LinesEstimate as a rough proxy for token volume, grounded on
// internal/agent/tokens.go's GetCost (input/output per-million pricing).
func (s *Selector) estimatedCost(tier models.Tier, task *models.Task) float64 {
	pricing, ok := s.pricing[tier]
	if !ok {
		return 0
	}
	estimatedTokens := float64(task.LinesEstimate) * 15 // ~15 tokens/line, rough proxy
	if estimatedTokens <= 0 {
		estimatedTokens = 500
	}
	inputTokens := estimatedTokens * 0.6
	outputTokens := estimatedTokens * 0.4
	return inputTokens/1_000_000*pricing.InputPerMillion + outputTokens/1_000_000*pricing.OutputPerMillion
}

// RecordOutcome feeds back what a task actually cost after running, for
// budget accounting and later expertise-learning consumption.
func (s *Selector) RecordOutcome(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgetSpent += o.Cost
	s.outcomes = append(s.outcomes, o)
}

// Outcomes returns every recorded outcome, oldest first.
func (s *Selector) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

func (s *Selector) tierForScore(weighted float64) models.Tier {
	switch {
	case weighted < s.sonnetThreshold:
		return models.TierHaiku
	case weighted < s.opusThreshold:
		return models.TierSonnet
	default:
		return models.TierOpus
	}
}

func scoreTask(task *models.Task) Score {
	text := strings.ToLower(task.Description + " " + task.Action)

	reasoning := factorScore(text, reasoningKeywords)
	code := factorScore(text, codeComplexityKeywords)
	domain := factorScore(text, domainKeywords)
	context := contextScore(task)

	if containsAny(text, lowComplexityKeywords) {
		reasoning, code, domain = 0, 0, 0
	}

	weighted := reasoning*weightReasoningDepth +
		code*weightCodeComplexity +
		domain*weightDomainSpecificity +
		context*weightContextRequirements

	return Score{
		ReasoningDepth:      reasoning,
		CodeComplexity:      code,
		DomainSpecificity:   domain,
		ContextRequirements: context,
		Weighted:            weighted,
	}
}

func factorScore(text string, keywords []string) float64 {
	if containsAny(text, keywords) {
		return 1.0
	}
	return 0.3
}

// contextScore approximates the context-requirements factor from how many
// files and how many hard dependencies a task carries: a task touching
// many files or chained deep in the dependency graph needs more context
// to get right.
func contextScore(task *models.Task) float64 {
	files := len(task.PredictedFiles)
	deps := len(task.HardDependencyIDs())

	switch {
	case files >= 5 || deps >= 3:
		return 1.0
	case files >= 2 || deps >= 1:
		return 0.6
	default:
		return 0.2
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
