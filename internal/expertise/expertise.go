// Package expertise implements the ExpertiseManager (Component F): a
// per-domain knowledge base that tasks draw context from before running
// and feed learnings back into after running, with a hard line-count
// budget per domain and periodic validation. Grounded on the teacher's
// internal/learning/store.go (sqlite-backed store with a mutex-guarded
// *sql.DB, versioned migrations via store_schema.go's migration-table
// idiom) and internal/learning/system.go's OnTaskStart/OnFailure
// retrieval hooks, adapted from the teacher's single global learnings
// table to spec.md §4.F's one-file-per-domain model.
package expertise

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	_ "modernc.org/sqlite"

	"github.com/buildforge/conduct/internal/logging"
	"github.com/buildforge/conduct/pkg/models"
)

// Store is the sqlite-backed persistence layer for expertise files,
// grounded on internal/learning/store.go's LearningStore.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if necessary) the expertise database at dbPath and
// runs its migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open expertise db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate expertise db: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const migrationV1 = `
CREATE TABLE IF NOT EXISTS expertise_schema_version (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS expertise_files (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	content_json TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	line_count INTEGER NOT NULL DEFAULT 0,
	last_validated DATETIME,
	UNIQUE(project_id, domain)
);
CREATE INDEX IF NOT EXISTS idx_expertise_project_domain ON expertise_files(project_id, domain);
`

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS expertise_schema_version (
		version INTEGER PRIMARY KEY, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		return err
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM expertise_schema_version")
	if err := row.Scan(&current); err != nil {
		return err
	}
	if current >= 1 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(migrationV1); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT INTO expertise_schema_version (version) VALUES (1)"); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Get loads the expertise file for (projectID, domain), or a fresh empty
// one if none exists yet.
func (s *Store) Get(projectID string, domain models.Domain) (*models.ExpertiseFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT id, content_json, version, line_count, last_validated
		FROM expertise_files WHERE project_id = ? AND domain = ?`, projectID, string(domain))

	var id, contentJSON string
	var version, lineCount int
	var lastValidated sql.NullTime
	err := row.Scan(&id, &contentJSON, &version, &lineCount, &lastValidated)
	if err == sql.ErrNoRows {
		return &models.ExpertiseFile{
			ID:        fmt.Sprintf("%s:%s", projectID, domain),
			ProjectID: projectID,
			Domain:    domain,
			Version:   0,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get expertise file: %w", err)
	}

	content, err := decodeContent(contentJSON)
	if err != nil {
		return nil, err
	}

	ef := &models.ExpertiseFile{
		ID: id, ProjectID: projectID, Domain: domain,
		Content: content, Version: version, LineCount: lineCount,
	}
	if lastValidated.Valid {
		t := lastValidated.Time
		ef.LastValidated = &t
	}
	return ef, nil
}

// Save upserts an expertise file, bumping its version, per the versioned-
// upsert idiom spec.md §6 requires for all store writes.
func (s *Store) Save(ef *models.ExpertiseFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contentJSON, err := encodeContent(ef.Content)
	if err != nil {
		return err
	}
	ef.Version++

	_, err = s.db.Exec(`
		INSERT INTO expertise_files (id, project_id, domain, content_json, version, line_count, last_validated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, domain) DO UPDATE SET
			content_json = excluded.content_json,
			version = excluded.version,
			line_count = excluded.line_count,
			last_validated = excluded.last_validated
	`, ef.ID, ef.ProjectID, string(ef.Domain), contentJSON, ef.Version, ef.LineCount, ef.LastValidated)
	if err != nil {
		return fmt.Errorf("save expertise file: %w", err)
	}
	return nil
}

// ListDomains returns every domain with a stored expertise file for
// projectID.
func (s *Store) ListDomains(projectID string) ([]models.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT domain FROM expertise_files WHERE project_id = ?", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Domain
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, models.Domain(d))
	}
	return out, rows.Err()
}

// yamlMirror is the on-disk shape for a domain's .expertise/{domain}.yaml
// export, a human-readable mirror of the sqlite-canonical ExpertiseFile
// recovered from the original project's file-based expertise layout.
type yamlMirror struct {
	ProjectID     string                    `yaml:"project_id"`
	Domain        models.Domain             `yaml:"domain"`
	Version       int                       `yaml:"version"`
	LineCount     int                       `yaml:"line_count"`
	LastValidated *time.Time                `yaml:"last_validated,omitempty"`
	Content       models.ExpertiseContent   `yaml:"content"`
}

// ExportYAML writes ef as a human-readable mirror to
// dir/.expertise/{domain}.yaml. It never replaces the sqlite store, which
// remains canonical; this is a read-only-for-humans export, regenerated in
// full on every call.
func ExportYAML(dir string, ef *models.ExpertiseFile) error {
	m := yamlMirror{
		ProjectID: ef.ProjectID, Domain: ef.Domain, Version: ef.Version,
		LineCount: ef.LineCount, LastValidated: ef.LastValidated, Content: ef.Content,
	}
	out, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal expertise yaml mirror: %w", err)
	}

	expertiseDir := filepath.Join(dir, ".expertise")
	if err := os.MkdirAll(expertiseDir, 0o755); err != nil {
		return fmt.Errorf("create expertise mirror dir: %w", err)
	}

	path := filepath.Join(expertiseDir, string(ef.Domain)+".yaml")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write expertise yaml mirror: %w", err)
	}
	return nil
}

func encodeContent(c models.ExpertiseContent) (string, error) {
	var b strings.Builder
	writeLines := func(label string, lines []string) {
		b.WriteString(label + "\n")
		for _, l := range lines {
			b.WriteString("\t" + l + "\n")
		}
	}
	writeLines("core_files", c.CoreFiles)
	writeLines("patterns", c.Patterns)
	writeLines("techniques", c.Techniques)
	writeLines("effective_patterns", c.EffectivePatterns)
	writeLines("successful_techniques", c.SuccessfulTechniques)
	b.WriteString("failures\n")
	for _, f := range c.LearnedFromFailures {
		fmt.Fprintf(&b, "\t%s|%s|%s|%s\n", f.Issue, f.Error, f.Solution, f.At.Format(time.RFC3339))
	}
	return b.String(), nil
}

func decodeContent(raw string) (models.ExpertiseContent, error) {
	var c models.ExpertiseContent
	var section string
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "\t") {
			section = line
			continue
		}
		item := strings.TrimPrefix(line, "\t")
		switch section {
		case "core_files":
			c.CoreFiles = append(c.CoreFiles, item)
		case "patterns":
			c.Patterns = append(c.Patterns, item)
		case "techniques":
			c.Techniques = append(c.Techniques, item)
		case "effective_patterns":
			c.EffectivePatterns = append(c.EffectivePatterns, item)
		case "successful_techniques":
			c.SuccessfulTechniques = append(c.SuccessfulTechniques, item)
		case "failures":
			parts := strings.SplitN(item, "|", 4)
			if len(parts) != 4 {
				continue
			}
			at, _ := time.Parse(time.RFC3339, parts[3])
			c.LearnedFromFailures = append(c.LearnedFromFailures, models.FailureLearning{
				Issue: parts[0], Error: parts[1], Solution: parts[2], At: at,
			})
		}
	}
	return c, nil
}

// domainOrder fixes iteration order over domainKeywords so Classify's
// tie-breaking is deterministic regardless of map ordering.
var domainOrder = []models.Domain{
	models.DomainDatabase, models.DomainAPI, models.DomainFrontend,
	models.DomainTesting, models.DomainSecurity, models.DomainDeployment,
}

// domainKeywords classifies a task's touched files and description into a
// domain, grounded on the keyword-scan idiom shared across the teacher's
// tier_keywords.go and model_selector.go.
var domainKeywords = map[models.Domain][]string{
	models.DomainDatabase:   {"schema", "migration", "sql", "query", "database", "db"},
	models.DomainAPI:        {"endpoint", "handler", "route", "api", "rest", "grpc"},
	models.DomainFrontend:   {"component", "ui", "css", "react", "view", "frontend"},
	models.DomainTesting:    {"test", "spec", "fixture", "mock"},
	models.DomainSecurity:   {"auth", "security", "token", "permission", "credential"},
	models.DomainDeployment: {"deploy", "ci", "docker", "kubernetes", "pipeline"},
}

// Classify picks the domain whose keywords score highest against task's
// description, action, and predicted files (path-level matches count
// double, per spec.md §4.F). Ties break toward previousDomain — the
// domain the task's epic was last classified under — and otherwise fall
// back to DomainGeneral.
func Classify(task *models.Task, previousDomain models.Domain) models.Domain {
	text := strings.ToLower(task.Description + " " + task.Action)

	scores := make(map[models.Domain]float64, len(domainOrder))
	for _, domain := range domainOrder {
		var score float64
		for _, kw := range domainKeywords[domain] {
			if strings.Contains(text, kw) {
				score++
			}
			for _, f := range task.PredictedFiles {
				if strings.Contains(strings.ToLower(f), kw) {
					score += 2
				}
			}
		}
		scores[domain] = score
	}

	var best models.Domain
	var bestScore float64
	var tied []models.Domain
	for _, domain := range domainOrder {
		s := scores[domain]
		switch {
		case s > bestScore:
			bestScore, best = s, domain
			tied = []models.Domain{domain}
		case s == bestScore && s > 0:
			tied = append(tied, domain)
		}
	}
	if bestScore == 0 {
		return models.DomainGeneral
	}
	if len(tied) > 1 {
		for _, d := range tied {
			if d == previousDomain {
				return previousDomain
			}
		}
		return models.DomainGeneral
	}
	return best
}

// Format bounds per spec.md §4.F: a format_for_prompt block never exceeds
// these per-section counts, independent of the larger storage ceilings
// (models.MaxExpertiseLines, models.MaxCoreFiles) enforced by Prune.
const (
	formatMaxCoreFiles         = 10
	formatMaxPatterns          = 5
	formatMaxBestPractices     = 5
	formatMaxFailures          = 3
	formatMaxEffectivePatterns = 3
)

// FormatForPrompt renders an expertise file as a bounded Markdown block
// suitable for injection into an agent's prompt context, per spec.md
// §4.F's per-section caps (enforced after assembly, on the rendered
// text's section contents rather than on the stored file).
func FormatForPrompt(ef *models.ExpertiseFile) string {
	if ef == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Expertise: %s\n\n", ef.Domain)

	writeSection(&b, "Core files", head(ef.Content.CoreFiles, formatMaxCoreFiles))
	writeSection(&b, "Patterns", head(ef.Content.Patterns, formatMaxPatterns))
	writeSection(&b, "Best practices", head(ef.Content.Techniques, formatMaxBestPractices))
	writeSection(&b, "Effective patterns", tail(ef.Content.EffectivePatterns, formatMaxEffectivePatterns))

	failures := tailFailures(ef.Content.LearnedFromFailures, formatMaxFailures)
	if len(failures) > 0 {
		b.WriteString("### Learned from failures\n")
		for _, f := range failures {
			if f.Solution != "" {
				fmt.Fprintf(&b, "- %s: %s -> %s\n", f.Issue, f.Error, f.Solution)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", f.Issue, f.Error)
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

func head(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func tail(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func tailFailures(items []models.FailureLearning, n int) []models.FailureLearning {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// ToolUse is one observed tool invocation from a completed task's session
// log, grounded on internal/learning/capture.go's session-to-learning
// extraction pattern.
type ToolUse struct {
	Tool   string
	Target string // file path argument, if any
}

// SessionResult carries the outcome a session leaves behind for
// LearnFromSession to extract: the final agent message (success case) or
// a classified failure (failure case, solution populated only when the
// final log event records the error as resolved).
type SessionResult struct {
	Success      bool
	FinalMessage string
	Failure      *models.FailureLearning
}

// effectiveSequencePairs are tool-use prefixes that spec.md §4.F calls out as
// recognizable productive patterns. A third sequence, Read->Edit->*test*, is
// matched separately: any step whose tool name or target contains "test"
// closes it.
var effectiveSequencePairs = [][2]string{
	{"Read", "Edit"},
	{"Glob", "Read"},
}

// LearnFromSession extracts new expertise content from a completed
// session's tool-use log and result, merges it into ef, then prunes to
// the 1000-line budget per spec.md §3's invariant. logger may be nil or
// a no-op logger; a warning is logged if pruning cannot bring the file
// back under budget.
func LearnFromSession(ef *models.ExpertiseFile, uses []ToolUse, result SessionResult, now time.Time, logger *logging.Logger) {
	for _, u := range uses {
		if u.Target == "" {
			continue
		}
		if u.Tool != "Write" && u.Tool != "Edit" {
			continue
		}
		file := normalizeProjectPath(u.Target)
		if !containsString(ef.Content.CoreFiles, file) {
			ef.Content.CoreFiles = append(ef.Content.CoreFiles, file)
		}
	}

	for _, seq := range detectSequences(uses) {
		if !containsString(ef.Content.EffectivePatterns, seq) {
			ef.Content.EffectivePatterns = append(ef.Content.EffectivePatterns, seq)
		}
	}

	if !result.Success && result.Failure != nil {
		ef.Content.LearnedFromFailures = append(ef.Content.LearnedFromFailures, *result.Failure)
	} else if result.Success && result.FinalMessage != "" {
		technique := firstSentence(result.FinalMessage, 200)
		if !containsString(ef.Content.SuccessfulTechniques, technique) {
			ef.Content.SuccessfulTechniques = append(ef.Content.SuccessfulTechniques, technique)
		}
	}

	Prune(ef, logger)
	ef.LineCount = countLines(ef.Content)
}

// detectSequences scans a session's tool-use log for the recognizable
// productive sequences spec.md §4.F names: Read->Edit, Glob->Read, and
// Read->Edit->*test*.
func detectSequences(uses []ToolUse) []string {
	var found []string
	for i := 0; i+1 < len(uses); i++ {
		for _, pair := range effectiveSequencePairs {
			if uses[i].Tool == pair[0] && uses[i+1].Tool == pair[1] {
				found = append(found, pair[0]+"->"+pair[1])
			}
		}
		if i+2 < len(uses) && uses[i].Tool == "Read" && uses[i+1].Tool == "Edit" &&
			strings.Contains(strings.ToLower(uses[i+2].Tool+" "+uses[i+2].Target), "test") {
			found = append(found, "Read->Edit->*test*")
		}
	}
	return found
}

func normalizeProjectPath(path string) string {
	return strings.TrimPrefix(path, "./")
}

func firstSentence(msg string, maxLen int) string {
	msg = strings.TrimSpace(msg)
	if idx := strings.IndexAny(msg, ".!?"); idx != -1 {
		msg = msg[:idx+1]
	}
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

// Prune enforces the 1000-line cap per spec.md §4.F's invariant, evicting
// in the specified order: oldest learned_from_failures, oldest
// effective_patterns, excess core_files beyond models.MaxCoreFiles,
// oldest successful_techniques. Logs a warning via logger if the file is
// still over budget after exhausting every eviction step.
func Prune(ef *models.ExpertiseFile, logger *logging.Logger) {
	for countLines(ef.Content) > models.MaxExpertiseLines {
		if len(ef.Content.LearnedFromFailures) > 0 {
			ef.Content.LearnedFromFailures = ef.Content.LearnedFromFailures[1:]
			continue
		}
		if len(ef.Content.EffectivePatterns) > 0 {
			ef.Content.EffectivePatterns = ef.Content.EffectivePatterns[1:]
			continue
		}
		if len(ef.Content.CoreFiles) > models.MaxCoreFiles {
			ef.Content.CoreFiles = ef.Content.CoreFiles[1:]
			continue
		}
		if len(ef.Content.SuccessfulTechniques) > 0 {
			ef.Content.SuccessfulTechniques = ef.Content.SuccessfulTechniques[1:]
			continue
		}
		break // nothing left to safely evict
	}
	if countLines(ef.Content) > models.MaxExpertiseLines {
		logger.Log("expertise %s/%s still over %d lines after pruning", ef.ProjectID, ef.Domain, models.MaxExpertiseLines)
	}
}

func countLines(c models.ExpertiseContent) int {
	n := len(c.CoreFiles) + len(c.Patterns) + len(c.Techniques) +
		len(c.EffectivePatterns) + len(c.SuccessfulTechniques) + len(c.LearnedFromFailures)
	return n
}

// Validate drops core_files that no longer exist on disk, drops
// learned_from_failures older than 30 days, and reports whether the file
// should be considered stale (last validated more than 30 days ago, or
// never). It mutates ef.Content and sets ef.LastValidated to now.
func Validate(ef *models.ExpertiseFile, fileExists func(path string) bool, now time.Time) (stale bool, droppedFiles []string) {
	stale = ef.LastValidated == nil || now.Sub(*ef.LastValidated) > 30*24*time.Hour

	var kept []string
	for _, f := range ef.Content.CoreFiles {
		if fileExists(f) {
			kept = append(kept, f)
		} else {
			droppedFiles = append(droppedFiles, f)
		}
	}
	ef.Content.CoreFiles = kept

	var keptFailures []models.FailureLearning
	for _, f := range ef.Content.LearnedFromFailures {
		if now.Sub(f.At) <= 30*24*time.Hour {
			keptFailures = append(keptFailures, f)
		}
	}
	ef.Content.LearnedFromFailures = keptFailures

	ef.LastValidated = &now
	sort.Strings(droppedFiles)
	return stale, droppedFiles
}
