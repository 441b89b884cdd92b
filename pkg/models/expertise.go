package models

import "time"

// Domain classifies the subject matter a task touches, used to route
// expertise injection.
type Domain string

const (
	DomainDatabase   Domain = "database"
	DomainAPI        Domain = "api"
	DomainFrontend   Domain = "frontend"
	DomainTesting    Domain = "testing"
	DomainSecurity   Domain = "security"
	DomainDeployment Domain = "deployment"
	DomainGeneral    Domain = "general"
)

// Valid returns true if the domain is a known value.
func (d Domain) Valid() bool {
	switch d {
	case DomainDatabase, DomainAPI, DomainFrontend, DomainTesting,
		DomainSecurity, DomainDeployment, DomainGeneral:
		return true
	default:
		return false
	}
}

// FailureLearning records one resolved-or-unresolved failure encountered
// during a session, in WHEN/DO/RESULT spirit: Issue is what went wrong,
// Solution (if known) is how it was fixed.
type FailureLearning struct {
	Issue    string    `json:"issue"`
	Error    string    `json:"error"`
	Solution string    `json:"solution,omitempty"`
	At       time.Time `json:"at"`
}

// ExpertiseContent is the structured body of an ExpertiseFile.
type ExpertiseContent struct {
	// CoreFiles lists project-relative paths the domain's work usually touches.
	CoreFiles []string `json:"core_files"`
	// Patterns are short notes about recognized code patterns in this domain.
	Patterns []string `json:"patterns"`
	// Techniques are short notes about effective approaches in this domain.
	Techniques []string `json:"techniques"`
	// EffectivePatterns are recognized tool-use sequences (e.g. Read->Edit)
	// that tended to produce successful sessions.
	EffectivePatterns []string `json:"effective_patterns"`
	// LearnedFromFailures is the append-only failure log, oldest first.
	LearnedFromFailures []FailureLearning `json:"learned_from_failures"`
	// SuccessfulTechniques are one-sentence summaries extracted from the
	// final agent message of successful sessions.
	SuccessfulTechniques []string `json:"successful_techniques"`
}

// ExpertiseFile is the per-(project, domain) learned-pattern document
// injected into agent prompts. Revisions are append-only logically; Version
// increments on every upsert.
type ExpertiseFile struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	Domain        Domain           `json:"domain"`
	Content       ExpertiseContent `json:"content"`
	Version       int              `json:"version"`
	LineCount     int              `json:"line_count"`
	LastValidated *time.Time       `json:"last_validated,omitempty"`
}

// MaxExpertiseLines is the invariant ceiling on ExpertiseFile.LineCount.
const MaxExpertiseLines = 1000

// MaxCoreFiles is the number of core files retained before pruning kicks in.
const MaxCoreFiles = 30
