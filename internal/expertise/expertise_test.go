package expertise

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/buildforge/conduct/pkg/models"
)

func TestClassify_MatchesDomainKeyword(t *testing.T) {
	task := &models.Task{Description: "add a new auth token validation check"}
	if got := Classify(task, models.DomainGeneral); got != models.DomainSecurity {
		t.Errorf("Classify() = %v, want security", got)
	}
}

func TestClassify_FallsBackToGeneral(t *testing.T) {
	task := &models.Task{Description: "tidy up the changelog"}
	if got := Classify(task, models.DomainGeneral); got != models.DomainGeneral {
		t.Errorf("Classify() = %v, want general", got)
	}
}

func TestClassify_PathMatchOutweighsSingleTextMatch(t *testing.T) {
	// "test" appears once in description (testing domain keyword) but
	// predicted file path matches "schema" (database), which counts
	// double and should win.
	task := &models.Task{
		Description:    "test the thing",
		PredictedFiles: []string{"internal/db/schema.sql"},
	}
	if got := Classify(task, models.DomainGeneral); got != models.DomainDatabase {
		t.Errorf("Classify() = %v, want database (path match wins)", got)
	}
}

func TestClassify_TieBreaksTowardPreviousDomain(t *testing.T) {
	// "api" and "route" both score 1 for api; "ui"/"view" both present too
	// giving frontend the same score. Force a tie and check previousDomain wins.
	task := &models.Task{Description: "update the api route and the ui view"}
	if got := Classify(task, models.DomainFrontend); got != models.DomainFrontend {
		t.Errorf("Classify() = %v, want frontend (tie-break toward previous)", got)
	}
}

func TestFormatForPrompt_CapsCoreFilesAtTen(t *testing.T) {
	content := models.ExpertiseContent{}
	for i := 0; i < 25; i++ {
		content.CoreFiles = append(content.CoreFiles, "file.go")
	}
	ef := &models.ExpertiseFile{Domain: models.DomainAPI, Content: content}

	out := FormatForPrompt(ef)
	gotLines := strings.Count(out, "- file.go")
	if gotLines != formatMaxCoreFiles {
		t.Errorf("rendered %d core-file lines, want %d", gotLines, formatMaxCoreFiles)
	}
}

func TestFormatForPrompt_EffectivePatternsShowsMostRecent(t *testing.T) {
	ef := &models.ExpertiseFile{
		Content: models.ExpertiseContent{
			EffectivePatterns: []string{"old1", "old2", "keep1", "keep2", "keep3"},
		},
	}
	out := FormatForPrompt(ef)
	for _, want := range []string{"keep1", "keep2", "keep3"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "old1") || strings.Contains(out, "old2") {
		t.Errorf("expected oldest effective patterns dropped, got:\n%s", out)
	}
}

func TestFormatForPrompt_NilReturnsEmpty(t *testing.T) {
	if got := FormatForPrompt(nil); got != "" {
		t.Errorf("FormatForPrompt(nil) = %q, want empty", got)
	}
}

func TestLearnFromSession_RecordsCoreFileFromEditTarget(t *testing.T) {
	ef := &models.ExpertiseFile{Domain: models.DomainAPI}
	uses := []ToolUse{{Tool: "Edit", Target: "./internal/api/users.go"}}
	result := SessionResult{Success: true, FinalMessage: "Added the users endpoint. It handles GET and POST."}

	LearnFromSession(ef, uses, result, time.Now(), nil)

	if len(ef.Content.CoreFiles) != 1 || ef.Content.CoreFiles[0] != "internal/api/users.go" {
		t.Errorf("CoreFiles = %v, want [internal/api/users.go] (normalized)", ef.Content.CoreFiles)
	}
}

func TestLearnFromSession_ExtractsFirstSentenceOnSuccess(t *testing.T) {
	ef := &models.ExpertiseFile{}
	result := SessionResult{Success: true, FinalMessage: "Implemented the feature cleanly. Also ran the tests."}

	LearnFromSession(ef, nil, result, time.Now(), nil)

	if len(ef.Content.SuccessfulTechniques) != 1 {
		t.Fatalf("expected one successful technique, got %d", len(ef.Content.SuccessfulTechniques))
	}
	if ef.Content.SuccessfulTechniques[0] != "Implemented the feature cleanly." {
		t.Errorf("SuccessfulTechniques[0] = %q, want first sentence only", ef.Content.SuccessfulTechniques[0])
	}
}

func TestLearnFromSession_DetectsReadEditSequence(t *testing.T) {
	ef := &models.ExpertiseFile{}
	uses := []ToolUse{
		{Tool: "Read", Target: "a.go"},
		{Tool: "Edit", Target: "a.go"},
	}
	LearnFromSession(ef, uses, SessionResult{}, time.Now(), nil)

	if !containsString(ef.Content.EffectivePatterns, "Read->Edit") {
		t.Errorf("EffectivePatterns = %v, want Read->Edit recorded", ef.Content.EffectivePatterns)
	}
}

func TestLearnFromSession_DetectsReadEditTestSequence(t *testing.T) {
	ef := &models.ExpertiseFile{}
	uses := []ToolUse{
		{Tool: "Read", Target: "a.go"},
		{Tool: "Edit", Target: "a.go"},
		{Tool: "Bash", Target: "go test ./..."},
	}
	LearnFromSession(ef, uses, SessionResult{}, time.Now(), nil)

	if !containsString(ef.Content.EffectivePatterns, "Read->Edit->*test*") {
		t.Errorf("EffectivePatterns = %v, want Read->Edit->*test* recorded", ef.Content.EffectivePatterns)
	}
}

func TestLearnFromSession_RecordsFailure(t *testing.T) {
	ef := &models.ExpertiseFile{}
	failure := &models.FailureLearning{Issue: "nil pointer", Error: "panic: nil map", Solution: "initialize map before use", At: time.Now()}
	result := SessionResult{Success: false, Failure: failure}

	LearnFromSession(ef, nil, result, time.Now(), nil)

	if len(ef.Content.LearnedFromFailures) != 1 {
		t.Fatalf("expected one failure recorded, got %d", len(ef.Content.LearnedFromFailures))
	}
	if ef.Content.LearnedFromFailures[0].Issue != "nil pointer" {
		t.Errorf("Issue = %q, want %q", ef.Content.LearnedFromFailures[0].Issue, "nil pointer")
	}
}

func TestLearnFromSession_DoesNotDuplicateCoreFiles(t *testing.T) {
	ef := &models.ExpertiseFile{Content: models.ExpertiseContent{CoreFiles: []string{"a.go"}}}
	uses := []ToolUse{{Tool: "Edit", Target: "a.go"}}

	LearnFromSession(ef, uses, SessionResult{}, time.Now(), nil)

	if len(ef.Content.CoreFiles) != 1 {
		t.Errorf("CoreFiles = %v, want no duplicate", ef.Content.CoreFiles)
	}
}

func TestPrune_EvictsOldestFailuresBeforeOtherCategories(t *testing.T) {
	ef := &models.ExpertiseFile{}
	for i := 0; i < models.MaxExpertiseLines+5; i++ {
		ef.Content.LearnedFromFailures = append(ef.Content.LearnedFromFailures, models.FailureLearning{Issue: "x"})
	}
	ef.Content.Patterns = []string{"keep this pattern"}

	Prune(ef, nil)

	if countLines(ef.Content) > models.MaxExpertiseLines {
		t.Errorf("countLines() = %d, want <= %d", countLines(ef.Content), models.MaxExpertiseLines)
	}
	if len(ef.Content.Patterns) != 1 {
		t.Errorf("Patterns should survive pruning when failures alone cover the excess, got %v", ef.Content.Patterns)
	}
}

func TestPrune_LeavesContentUntouchedWhenUnderBudget(t *testing.T) {
	ef := &models.ExpertiseFile{Content: models.ExpertiseContent{
		Patterns: []string{"p1", "p2"},
	}}
	Prune(ef, nil)
	if len(ef.Content.Patterns) != 2 {
		t.Errorf("Prune() should not touch Patterns when under budget, got %v", ef.Content.Patterns)
	}
}

func TestValidate_DropsMissingCoreFiles(t *testing.T) {
	ef := &models.ExpertiseFile{
		Content: models.ExpertiseContent{CoreFiles: []string{"exists.go", "gone.go"}},
	}
	exists := func(path string) bool { return path == "exists.go" }
	recent := time.Now()
	ef.LastValidated = &recent

	stale, dropped := Validate(ef, exists, time.Now())

	if stale {
		t.Error("expected not stale, LastValidated is recent")
	}
	if len(dropped) != 1 || dropped[0] != "gone.go" {
		t.Errorf("dropped = %v, want [gone.go]", dropped)
	}
	if len(ef.Content.CoreFiles) != 1 || ef.Content.CoreFiles[0] != "exists.go" {
		t.Errorf("CoreFiles after Validate = %v, want [exists.go]", ef.Content.CoreFiles)
	}
}

func TestValidate_DropsFailuresOlderThan30Days(t *testing.T) {
	now := time.Now()
	ef := &models.ExpertiseFile{
		Content: models.ExpertiseContent{LearnedFromFailures: []models.FailureLearning{
			{Issue: "old", At: now.Add(-40 * 24 * time.Hour)},
			{Issue: "recent", At: now.Add(-1 * time.Hour)},
		}},
	}

	Validate(ef, func(string) bool { return true }, now)

	if len(ef.Content.LearnedFromFailures) != 1 || ef.Content.LearnedFromFailures[0].Issue != "recent" {
		t.Errorf("LearnedFromFailures = %v, want only the recent one kept", ef.Content.LearnedFromFailures)
	}
}

func TestValidate_StaleAfter30Days(t *testing.T) {
	ef := &models.ExpertiseFile{}
	old := time.Now().Add(-31 * 24 * time.Hour)
	ef.LastValidated = &old

	stale, _ := Validate(ef, func(string) bool { return true }, time.Now())
	if !stale {
		t.Error("expected stale after 31 days")
	}
}

func TestValidate_NeverValidatedIsStale(t *testing.T) {
	ef := &models.ExpertiseFile{}
	stale, _ := Validate(ef, func(string) bool { return true }, time.Now())
	if !stale {
		t.Error("expected stale when LastValidated is nil")
	}
}

func TestValidate_UpdatesLastValidated(t *testing.T) {
	ef := &models.ExpertiseFile{}
	now := time.Now()
	Validate(ef, func(string) bool { return true }, now)
	if ef.LastValidated == nil || !ef.LastValidated.Equal(now) {
		t.Errorf("LastValidated = %v, want %v", ef.LastValidated, now)
	}
}

func TestStore_SaveAndGetRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "expertise.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ef := &models.ExpertiseFile{
		ID:        "proj1:api",
		ProjectID: "proj1",
		Domain:    models.DomainAPI,
		Content: models.ExpertiseContent{
			CoreFiles: []string{"a.go", "b.go"},
			Patterns:  []string{"use handler structs"},
		},
	}

	if err := store.Save(ef); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ef.Version != 1 {
		t.Errorf("Version after first save = %d, want 1", ef.Version)
	}

	got, err := store.Get("proj1", models.DomainAPI)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Content.CoreFiles) != 2 || got.Content.CoreFiles[0] != "a.go" {
		t.Errorf("CoreFiles = %v, want [a.go b.go]", got.Content.CoreFiles)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
}

func TestStore_SaveTwiceBumpsVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "expertise.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ef := &models.ExpertiseFile{ID: "p:api", ProjectID: "p", Domain: models.DomainAPI}
	store.Save(ef)
	store.Save(ef)

	got, err := store.Get("p", models.DomainAPI)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
}

func TestStore_GetMissingReturnsEmptyFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "expertise.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	got, err := store.Get("nope", models.DomainGeneral)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 0 || len(got.Content.CoreFiles) != 0 {
		t.Errorf("expected empty fresh file, got %+v", got)
	}
}

func TestStore_ListDomains(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "expertise.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	store.Save(&models.ExpertiseFile{ID: "p:api", ProjectID: "p", Domain: models.DomainAPI})
	store.Save(&models.ExpertiseFile{ID: "p:db", ProjectID: "p", Domain: models.DomainDatabase})
	store.Save(&models.ExpertiseFile{ID: "other:api", ProjectID: "other", Domain: models.DomainAPI})

	domains, err := store.ListDomains("p")
	if err != nil {
		t.Fatalf("ListDomains: %v", err)
	}
	if len(domains) != 2 {
		t.Errorf("ListDomains() = %v, want 2 entries for project p", domains)
	}
}

func TestExportYAML_WritesMirrorFile(t *testing.T) {
	dir := t.TempDir()
	ef := &models.ExpertiseFile{
		ID: "p:api", ProjectID: "p", Domain: models.DomainAPI, Version: 3,
		Content: models.ExpertiseContent{CoreFiles: []string{"internal/api/users.go"}},
	}

	if err := ExportYAML(dir, ef); err != nil {
		t.Fatalf("ExportYAML: %v", err)
	}

	path := filepath.Join(dir, ".expertise", "api.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), "internal/api/users.go") {
		t.Errorf("mirror file missing expected core file, got:\n%s", raw)
	}
	if !strings.Contains(string(raw), "version: 3") {
		t.Errorf("mirror file missing version, got:\n%s", raw)
	}
}
