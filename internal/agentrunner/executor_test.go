package agentrunner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/buildforge/conduct/pkg/models"
)

func TestToolExecutor_ReadWriteEditRoundTrip(t *testing.T) {
	dir := t.TempDir()
	exec := newToolExecutor(dir)
	ctx := context.Background()

	writeInput, _ := json.Marshal(map[string]string{"file_path": "a.txt", "content": "hello world"})
	res := exec.execute(ctx, "Write", writeInput)
	if res.IsError {
		t.Fatalf("Write failed: %s", res.Content)
	}

	readInput, _ := json.Marshal(map[string]string{"file_path": "a.txt"})
	res = exec.execute(ctx, "Read", readInput)
	if res.IsError {
		t.Fatalf("Read failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "hello world") {
		t.Errorf("Read content = %q, want it to contain 'hello world'", res.Content)
	}

	editInput, _ := json.Marshal(map[string]interface{}{"file_path": "a.txt", "old_string": "world", "new_string": "there"})
	res = exec.execute(ctx, "Edit", editInput)
	if res.IsError {
		t.Fatalf("Edit failed: %s", res.Content)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(raw) != "hello there" {
		t.Errorf("file content = %q, want %q", raw, "hello there")
	}
}

func TestToolExecutor_EditRejectsAmbiguousMatch(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("foo foo"), 0644)
	exec := newToolExecutor(dir)

	editInput, _ := json.Marshal(map[string]interface{}{"file_path": "b.txt", "old_string": "foo", "new_string": "bar"})
	res := exec.execute(context.Background(), "Edit", editInput)
	if !res.IsError {
		t.Error("expected Edit to reject a non-unique old_string without replace_all")
	}
}

func TestToolExecutor_ListDir(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "sub"), 0755)

	exec := newToolExecutor(dir)
	input, _ := json.Marshal(map[string]string{"path": "."})
	res := exec.execute(context.Background(), "ListDir", input)
	if res.IsError {
		t.Fatalf("ListDir failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "f.txt") || !strings.Contains(res.Content, "sub/") {
		t.Errorf("ListDir content = %q", res.Content)
	}
}

func TestToolTarget_ExtractsFilePathForReadEditWrite(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"file_path": "internal/api/users.go"})
	for _, tool := range []string{"Read", "Write", "Edit"} {
		if got := toolTarget(tool, input); got != "internal/api/users.go" {
			t.Errorf("toolTarget(%s) = %q, want internal/api/users.go", tool, got)
		}
	}
}

func TestToolTarget_ExtractsPathForListDir(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"path": "internal/store"})
	if got := toolTarget("ListDir", input); got != "internal/store" {
		t.Errorf("toolTarget(ListDir) = %q", got)
	}
}

func TestTaskPrompt_IncludesDescriptionActionAndFiles(t *testing.T) {
	task := &models.Task{
		Description: "add retry logic", Action: "implement",
		PredictedFiles: []string{"internal/api/client.go"},
	}
	prompt := taskPrompt(task)
	if !strings.Contains(prompt, "add retry logic") || !strings.Contains(prompt, "implement") || !strings.Contains(prompt, "internal/api/client.go") {
		t.Errorf("taskPrompt() = %q, missing expected fields", prompt)
	}
}

func TestCallCost_UsesSelectorPricing(t *testing.T) {
	cost := callCost(models.TierHaiku, 1_000_000, 1_000_000)
	if cost <= 0 {
		t.Error("expected positive cost for haiku tier")
	}
	opusCost := callCost(models.TierOpus, 1_000_000, 1_000_000)
	if opusCost <= cost {
		t.Errorf("opus cost (%v) should exceed haiku cost (%v) for identical token counts", opusCost, cost)
	}
}

