package release

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the aggregate state of a release.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the release is frozen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// BlockStatus is the state of one block execution.
type BlockStatus string

const (
	BlockWaiting         BlockStatus = "WAITING"
	BlockReady           BlockStatus = "READY"
	BlockRunning         BlockStatus = "RUNNING"
	BlockWaitingForInput BlockStatus = "WAITING_FOR_INPUT"
	BlockRetrying        BlockStatus = "RETRYING"
	BlockSucceeded       BlockStatus = "SUCCEEDED"
	BlockFailed          BlockStatus = "FAILED"
	BlockCancelled       BlockStatus = "CANCELLED"
)

func (s BlockStatus) Terminal() bool {
	return s == BlockSucceeded || s == BlockFailed || s == BlockCancelled
}

type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

type InputType string

const (
	InputText         InputType = "TEXT"
	InputChoice       InputType = "CHOICE"
	InputConfirmation InputType = "CONFIRMATION"
	InputMultiChoice  InputType = "MULTI_CHOICE"
)

// InputPurpose distinguishes a UserAction gate from an operator hold placed by PauseBlock.
type InputPurpose string

const (
	PurposeAction InputPurpose = "action"
	PurposeResume InputPurpose = "resume"
)

type Release struct {
	ID              string            `json:"id"`
	ProjectID       string            `json:"project_id"`
	ProjectVersion  int               `json:"project_version"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	ParameterValues map[string]string `json:"parameter_values"`
	Status          Status            `json:"status"`
	StartedBy       string            `json:"started_by,omitempty"`
	UserPaused      bool              `json:"user_paused,omitempty"`
	Plan            json.RawMessage   `json:"-"`
	BlockExecutions []BlockExecution  `json:"block_executions,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type BlockExecution struct {
	ID              string            `json:"id"`
	ReleaseID       string            `json:"release_id"`
	BlockID         string            `json:"block_id"`
	BlockType       string            `json:"block_type"`
	Position        int               `json:"position"`
	Status          BlockStatus       `json:"status"`
	ParameterValues map[string]string `json:"parameter_values"`
	ManualValues    map[string]string `json:"-"`
	OutputValues    map[string]string `json:"output_values"`
	Metadata        map[string]string `json:"metadata"`
	RetryCount      int               `json:"retry_count"`
	MaxRetries      int               `json:"max_retries"`
	LastError       *string           `json:"last_error,omitempty"`
	NextAttemptAt   *time.Time        `json:"next_attempt_at,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type ExecutionLog struct {
	ID               string            `json:"id"`
	ReleaseID        string            `json:"release_id"`
	BlockExecutionID string            `json:"block_execution_id"`
	Level            LogLevel          `json:"level"`
	Message          string            `json:"message"`
	Source           string            `json:"source,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

type UserInput struct {
	ID               string       `json:"id"`
	ReleaseID        string       `json:"release_id"`
	BlockExecutionID string       `json:"block_execution_id"`
	Purpose          InputPurpose `json:"purpose"`
	Prompt           string       `json:"prompt"`
	InputType        InputType    `json:"input_type"`
	Options          []string     `json:"options,omitempty"`
	Required         bool         `json:"required"`
	SubmittedValue   *string      `json:"submitted_value,omitempty"`
	SubmittedBy      *string      `json:"submitted_by,omitempty"`
	SubmittedAt      *time.Time   `json:"submitted_at,omitempty"`
	CancelledAt      *time.Time   `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Open reports whether the input still awaits a submission.
func (u UserInput) Open() bool {
	return u.SubmittedAt == nil && u.CancelledAt == nil
}

// ListRequest filters and pages ListReleases.
type ListRequest struct {
	ProjectID string
	Status    Status
	Search    string
	Limit     int    // default 50
	Offset    int
	SortBy    string // name|created_at|started_at|completed_at|status
	Order     string // asc|desc (default desc)
}

// LogRequest filters and pages ListLogs.
type LogRequest struct {
	Level  LogLevel
	Source string
	Limit  int // default 100
	Offset int
	From   *time.Time
	To     *time.Time
}

type StatisticsRequest struct {
	From    *time.Time
	To      *time.Time
	GroupBy string // day|week|month
}

type Statistics struct {
	TotalReleases      int                `json:"total_releases"`
	SuccessfulReleases int                `json:"successful_releases"`
	FailedReleases     int                `json:"failed_releases"`
	AverageDuration    int64              `json:"average_duration_seconds"`
	ReleasesByDate     []DateCount        `json:"releases_by_date"`
	BlockSuccessRates  []BlockSuccessRate `json:"block_success_rates"`
	MostUsedBlocks     []BlockUsage       `json:"most_used_blocks"`
}

type DateCount struct {
	Date         string `json:"date"`
	Count        int    `json:"count"`
	SuccessCount int    `json:"success_count"`
	FailureCount int    `json:"failure_count"`
}

type BlockSuccessRate struct {
	BlockType            string  `json:"block_type"`
	TotalExecutions      int     `json:"total_executions"`
	SuccessfulExecutions int     `json:"successful_executions"`
	SuccessRate          float64 `json:"success_rate"`
}

type BlockUsage struct {
	BlockType       string `json:"block_type"`
	UsageCount      int    `json:"usage_count"`
	AverageDuration int64  `json:"average_duration_seconds"`
}

var (
	ErrNotFound        = errors.New("not found")
	ErrInputClosed     = errors.New("input already submitted or cancelled")
	ErrInvalidSortSpec = errors.New("invalid sort field")
)
