package events

import (
	"encoding/json"
	"time"
)

type Type string

const (
	TypeReleaseStatus Type = "release.status"
	TypeBlockStatus   Type = "block.status"
	TypeBlockLog      Type = "block.log"
	TypeBlockMetadata Type = "block.metadata"
	TypeBlockOutput   Type = "block.output"
	TypeInputRequired Type = "input.required"
)

// BlockTypes are the event types a single block execution produces.
var BlockTypes = []Type{TypeBlockStatus, TypeBlockLog, TypeBlockMetadata, TypeBlockOutput, TypeInputRequired}

// Event is one entry of the durable, globally ordered event log.
type Event struct {
	Seq              int64           `json:"seq"`
	ReleaseID        string          `json:"release_id"`
	BlockExecutionID string          `json:"block_execution_id,omitempty"`
	Type             Type            `json:"type"`
	At               time.Time       `json:"at"`
	Data             json.RawMessage `json:"data"`
}

// ReleaseStatus is the payload of release.status.
type ReleaseStatus struct {
	Status   string `json:"status"`
	Previous string `json:"previous,omitempty"`
	Terminal bool   `json:"terminal"`
}

// BlockStatus is the payload of block.status.
type BlockStatus struct {
	BlockID       string     `json:"block_id"`
	Status        string     `json:"status"`
	Previous      string     `json:"previous,omitempty"`
	RetryCount    int        `json:"retry_count"`
	Error         string     `json:"error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// LogLine is the payload of block.log.
type LogLine struct {
	BlockID string `json:"block_id"`
	Level   string `json:"level"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// Values is the payload of block.metadata and block.output.
type Values struct {
	BlockID string            `json:"block_id"`
	Values  map[string]string `json:"values"`
}

// InputRequired is the payload of input.required.
type InputRequired struct {
	BlockID   string   `json:"block_id"`
	InputID   string   `json:"input_id"`
	Purpose   string   `json:"purpose"`
	Prompt    string   `json:"prompt"`
	InputType string   `json:"input_type"`
	Options   []string `json:"options,omitempty"`
}

// New builds an unsequenced event with a JSON payload.
func New(releaseID, blockExecutionID string, typ Type, payload any) Event {
	data := json.RawMessage("{}")
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			data = b
		}
	}
	return Event{
		ReleaseID:        releaseID,
		BlockExecutionID: blockExecutionID,
		Type:             typ,
		At:               time.Now().UTC(),
		Data:             data,
	}
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Terminal reports whether e announces a terminal release status.
func (e Event) Terminal() bool {
	if e.Type != TypeReleaseStatus {
		return false
	}
	var st ReleaseStatus
	if err := e.Decode(&st); err != nil {
		return false
	}
	return st.Terminal
}

// Filter selects the events a subscriber receives.
type Filter struct {
	ReleaseID        string
	BlockExecutionID string
	Types            []Type
}

func (f Filter) match(e Event) bool {
	if f.ReleaseID != "" && e.ReleaseID != f.ReleaseID {
		return false
	}
	if f.BlockExecutionID != "" && e.BlockExecutionID != f.BlockExecutionID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// Cursor positions a new subscription in the log. The zero value replays
// from the beginning.
type Cursor struct {
	AfterSeq int64
	Since    *time.Time
	FromNow  bool
}
