package agentrunner

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// toolDefinitions returns the tool schemas offered to the model on every
// turn. Names are the exact strings internal/expertise's LearnFromSession
// compares by name (Read, Edit, Write, Glob), so a session's tool-use log
// can be fed straight into LearnFromSession.
func toolDefinitions() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{OfTool: &anthropic.ToolParam{
			Name:        "Read",
			Description: anthropic.String("Read a file from the filesystem. Returns content with line numbers."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"file_path": map[string]interface{}{"type": "string", "description": "Absolute path to the file to read"},
					"offset":    map[string]interface{}{"type": "integer", "description": "1-indexed line to start from (optional)"},
					"limit":     map[string]interface{}{"type": "integer", "description": "Max lines to read (optional)"},
				},
				Required: []string{"file_path"},
			},
		}},
		{OfTool: &anthropic.ToolParam{
			Name:        "Write",
			Description: anthropic.String("Write content to a file, creating parent directories if needed."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"file_path": map[string]interface{}{"type": "string", "description": "Absolute path to the file to write"},
					"content":   map[string]interface{}{"type": "string", "description": "Content to write"},
				},
				Required: []string{"file_path", "content"},
			},
		}},
		{OfTool: &anthropic.ToolParam{
			Name:        "Edit",
			Description: anthropic.String("Replace text in a file. old_string must be unique unless replace_all is set."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"file_path":   map[string]interface{}{"type": "string", "description": "Absolute path to the file to edit"},
					"old_string":  map[string]interface{}{"type": "string", "description": "Exact text to replace"},
					"new_string":  map[string]interface{}{"type": "string", "description": "Replacement text"},
					"replace_all": map[string]interface{}{"type": "boolean", "description": "Replace every occurrence (default false)"},
				},
				Required: []string{"file_path", "old_string", "new_string"},
			},
		}},
		{OfTool: &anthropic.ToolParam{
			Name:        "Bash",
			Description: anthropic.String("Run a shell command in the worktree and return its output."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"command":     map[string]interface{}{"type": "string", "description": "Command to execute"},
					"timeout":     map[string]interface{}{"type": "integer", "description": "Timeout in milliseconds (default 120000)"},
					"description": map[string]interface{}{"type": "string", "description": "What this command does"},
				},
				Required: []string{"command"},
			},
		}},
		{OfTool: &anthropic.ToolParam{
			Name:        "Glob",
			Description: anthropic.String("Find files matching a glob pattern."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"pattern": map[string]interface{}{"type": "string", "description": "Glob pattern, e.g. '**/*.go'"},
					"path":    map[string]interface{}{"type": "string", "description": "Directory to search (optional)"},
				},
				Required: []string{"pattern"},
			},
		}},
		{OfTool: &anthropic.ToolParam{
			Name:        "Grep",
			Description: anthropic.String("Search file contents by regex."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"pattern": map[string]interface{}{"type": "string", "description": "Regex pattern"},
					"path":    map[string]interface{}{"type": "string", "description": "File or directory to search (optional)"},
					"glob":    map[string]interface{}{"type": "string", "description": "Filter files by glob (optional)"},
					"context": map[string]interface{}{"type": "integer", "description": "Context lines around matches (optional)"},
				},
				Required: []string{"pattern"},
			},
		}},
		{OfTool: &anthropic.ToolParam{
			Name:        "ListDir",
			Description: anthropic.String("List the contents of a directory."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"path": map[string]interface{}{"type": "string", "description": "Directory to list"},
				},
				Required: []string{"path"},
			},
		}},
	}
}
