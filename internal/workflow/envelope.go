package workflow

import "time"

// CompletionType classifies an agent's completion signal to the coordinator.
type CompletionType string

const (
	CompletionNormal         CompletionType = "normal"
	CompletionLastInPhase    CompletionType = "last_in_phase"
	CompletionFallbackInvoke CompletionType = "fallback_invocation_failed"
	CompletionAgentError     CompletionType = "agent_error"
)

// Signal is the uniform completion envelope consumed by the coordinator.
type Signal struct {
	RunID          string         `json:"analysis_id"`
	Ticker         string         `json:"ticker"`
	UserID         string         `json:"user_id"`
	Phase          Phase          `json:"phase"`
	Agent          string         `json:"agent"`
	CompletionType CompletionType `json:"completion_type"`
	Error          string         `json:"error,omitempty"`
	ErrorType      ErrorType      `json:"error_type,omitempty"`
	FailedToInvoke string         `json:"failed_to_invoke,omitempty"`
}

// RetryEnvelope rides in the invocation payload and carries watchdog retry
// state between attempts of the same agent. It is never persisted; the step
// row's terminal status ends its lifecycle.
type RetryEnvelope struct {
	Attempt       int           `json:"attempt"`
	MaxRetries    int           `json:"max_retries"`
	Timeout       time.Duration `json:"timeout_ms"`
	OriginalStart time.Time     `json:"original_start_time"`
	FunctionName  string        `json:"function_name"`
}

// NewRetryEnvelope creates the envelope for a first invocation.
func NewRetryEnvelope(functionName string, timeout time.Duration, maxRetries int) RetryEnvelope {
	return RetryEnvelope{
		Attempt:       1,
		MaxRetries:    maxRetries,
		Timeout:       timeout,
		OriginalStart: time.Now().UTC(),
		FunctionName:  functionName,
	}
}

// Next returns the envelope for the watchdog's re-invocation of the same
// agent, preserving the original start time.
func (e RetryEnvelope) Next() RetryEnvelope {
	next := e
	next.Attempt++
	return next
}

// Exhausted reports whether the envelope has no retries left. Attempt is
// 1-based, so maxRetries=3 allows four invocations in total.
func (e RetryEnvelope) Exhausted() bool {
	return e.Attempt > e.MaxRetries+1
}

// Task is the invocation payload handed to an agent worker.
type Task struct {
	RunID    string        `json:"analysis_id"`
	Ticker   string        `json:"ticker"`
	UserID   string        `json:"user_id"`
	Phase    Phase         `json:"phase"`
	Agent    string        `json:"agent"`
	Envelope RetryEnvelope `json:"envelope"`
}
