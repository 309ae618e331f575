package models

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// ParseTaskStatus accepts the canonical names only, case-insensitively.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch st := TaskStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TaskPending, TaskProcessing, TaskCompleted, TaskFailed:
		return st, true
	}
	return "", false
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition is the single guard for task status changes. Terminal states
// accept nothing; a task never moves back to pending.
func CanTransition(from, to TaskStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case TaskProcessing:
		return from == TaskPending || from == TaskProcessing
	case TaskCompleted, TaskFailed:
		return from == TaskPending || from == TaskProcessing
	}
	return false
}

type TaskType string

const (
	TaskTextToImage  TaskType = "text-to-image"
	TaskImageToImage TaskType = "image-to-image"
)

// TaskParameters is the stored input of a generation request.
type TaskParameters struct {
	Prompt       string         `json:"prompt"`
	AspectRatio  string         `json:"aspect_ratio,omitempty"`
	Resolution   string         `json:"resolution,omitempty"`
	OutputFormat string         `json:"output_format,omitempty"`
	Seed         *int64         `json:"seed,omitempty"`
	InputURLs    []string       `json:"input_urls,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

type TaskResult struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type TaskError struct {
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	RefundError string `json:"refund_error,omitempty"`
}

type GenerationTask struct {
	ID                   string
	ShareID              string
	UserID               string
	TaskType             TaskType
	Provider             string
	ProviderRequestID    string
	Model                string
	Status               TaskStatus
	Progress             int
	Parameters           TaskParameters
	Results              []TaskResult
	ConsumeTransactionID string
	RefundTransactionID  *string
	CreditsCost          int
	Error                *TaskError
	StartedAt            time.Time
	CompletedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            *time.Time
}
