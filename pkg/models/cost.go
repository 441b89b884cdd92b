package models

import "time"

// CostRecord is an append-only log entry of one billed agent call.
type CostRecord struct {
	ProjectID     string    `json:"project_id"`
	SessionID     string    `json:"session_id"`
	TaskID        string    `json:"task_id"`
	Model         string    `json:"model"`
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	Cost          float64   `json:"cost"`
	OperationType string    `json:"operation_type"`
	At            time.Time `json:"at"`
}
