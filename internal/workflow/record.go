package workflow

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle state of an analysis run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunError || s == RunCancelled
}

// StepStatus represents the lifecycle state of one (phase, agent) step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// Run is the aggregate root for one (ticker, run) analysis.
type Run struct {
	ID           string    `json:"id"`
	Ticker       string    `json:"ticker"`
	UserID       string    `json:"user_id"`
	Status       RunStatus `json:"status"`
	CurrentPhase Phase     `json:"current_phase"`
	Decision     string    `json:"decision,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Step is the persisted status record for one (phase, agent) pair.
type Step struct {
	RunID     string     `json:"run_id"`
	Phase     Phase      `json:"phase"`
	Agent     string     `json:"agent"`
	Status    StepStatus `json:"status"`
	Attempt   int        `json:"attempt"`
	Error     string     `json:"error,omitempty"`
	ErrorType ErrorType  `json:"error_type,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DebateRound is one bull/bear exchange within the research phase.
// A round is complete only once both sides have written.
type DebateRound struct {
	RunID      string   `json:"run_id"`
	Number     int      `json:"round"`
	BullText   string   `json:"bull_text"`
	BearText   string   `json:"bear_text"`
	BullPoints []string `json:"bull_points,omitempty"`
	BearPoints []string `json:"bear_points,omitempty"`
}

// Complete reports whether both sides of the round have argued.
func (r DebateRound) Complete() bool {
	return r.BullText != "" && r.BearText != ""
}

// Insight is one agent's structured output for a run.
type Insight struct {
	RunID     string          `json:"run_id"`
	Agent     string          `json:"agent"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}
