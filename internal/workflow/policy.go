package workflow

import (
	"fmt"
	"strings"
)

// ErrorType buckets a failed agent invocation for continuation decisions.
type ErrorType string

const (
	ErrRateLimit ErrorType = "rate_limit"
	ErrAPIKey    ErrorType = "api_key"
	ErrAI        ErrorType = "ai_error"
	ErrDataFetch ErrorType = "data_fetch"
	ErrTimeout   ErrorType = "timeout"
	ErrDatabase  ErrorType = "database"
	ErrOther     ErrorType = "other"
)

// classifyKeywords maps error-text substrings to buckets, checked in order.
// Keyword matching is a best-effort fallback for errors arriving without an
// explicit type.
var classifyKeywords = []struct {
	needle string
	typ    ErrorType
}{
	{"rate limit", ErrRateLimit},
	{"429", ErrRateLimit},
	{"too many requests", ErrRateLimit},
	{"api key", ErrAPIKey},
	{"unauthorized", ErrAPIKey},
	{"401", ErrAPIKey},
	{"invalid_api_key", ErrAPIKey},
	{"timeout", ErrTimeout},
	{"timed out", ErrTimeout},
	{"deadline exceeded", ErrTimeout},
	{"model", ErrAI},
	{"completion", ErrAI},
	{"llm", ErrAI},
	{"fetch", ErrDataFetch},
	{"market data", ErrDataFetch},
	{"quote", ErrDataFetch},
	{"scrape", ErrDataFetch},
	{"sqlite", ErrDatabase},
	{"database", ErrDatabase},
	{"sql", ErrDatabase},
}

// ClassifyError buckets an error message. An explicit type, when supplied
// by the failing agent, always wins over keyword matching.
func ClassifyError(message string, explicit ErrorType) ErrorType {
	if explicit != "" {
		return explicit
	}
	lower := strings.ToLower(message)
	for _, kw := range classifyKeywords {
		if strings.Contains(lower, kw.needle) {
			return kw.typ
		}
	}
	return ErrOther
}

// criticalAgents tags agents whose failure can abort a run. Auxiliary
// sentiment/news/macro steps are optional: their failures are recorded and
// the phase keeps moving.
var criticalAgents = map[string]bool{
	MarketAnalyst:    true,
	BullResearcher:   true,
	BearResearcher:   true,
	Trader:           true,
	RiskManager:      true,
	PortfolioManager: true,
}

// IsCriticalAgent reports whether the agent's failure may abort the run.
func IsCriticalAgent(agent string) bool {
	return criticalAgents[agent]
}

// ContinueDecision is the outcome of shouldContinueAfterError.
type ContinueDecision struct {
	Continue bool
	Reason   string
}

// ShouldContinueAfterError decides whether a run survives a classified agent
// failure. Optional-agent failures never stop the run. Critical-agent
// failures stop it, except where a phase-specific override applies: the
// research manager can proceed on debate output alone, and a researcher
// failure is survivable once at least one debate round is complete (the
// caller supplies completeRounds).
func ShouldContinueAfterError(agent string, errType ErrorType, completeRounds int) ContinueDecision {
	if !IsCriticalAgent(agent) {
		return ContinueDecision{Continue: true, Reason: fmt.Sprintf("optional agent %s failed (%s), run continues", agent, errType)}
	}

	switch agent {
	case ResearchManager:
		// Not in the critical table, but kept explicit: the debate output is
		// sufficient for the trading phase even without a moderator verdict.
		return ContinueDecision{Continue: true, Reason: "research manager failed, debate output is sufficient"}
	case BullResearcher, BearResearcher:
		if completeRounds > 0 {
			return ContinueDecision{
				Continue: true,
				Reason:   fmt.Sprintf("researcher %s failed with %d complete round(s), skipping to research manager", agent, completeRounds),
			}
		}
		return ContinueDecision{Continue: false, Reason: "no debate rounds completed"}
	}

	return ContinueDecision{Continue: false, Reason: fmt.Sprintf("critical agent %s failed: %s", agent, errType)}
}

// PhaseHealth aggregates step state for a phase at a last-in-phase boundary.
type PhaseHealth struct {
	CanProceed       bool
	CriticalFailures []string
	PendingAgents    []string
	FailedAgents     []string
	Reason           string
}

// CheckPhaseHealth scans the phase's steps and decides whether the run may
// advance. Research-phase health additionally requires at least one complete
// debate round regardless of step statuses.
func CheckPhaseHealth(phase Phase, steps []Step, completeRounds int) PhaseHealth {
	h := PhaseHealth{CanProceed: true}

	byAgent := make(map[string]Step, len(steps))
	for _, s := range steps {
		if s.Phase == phase {
			byAgent[s.Agent] = s
		}
	}

	for _, agent := range PhaseAgents(phase) {
		step, ok := byAgent[agent]
		if !ok || step.Status == StepPending || step.Status == StepRunning {
			h.PendingAgents = append(h.PendingAgents, agent)
			continue
		}
		if step.Status == StepError {
			h.FailedAgents = append(h.FailedAgents, agent)
			if IsCriticalAgent(agent) {
				h.CriticalFailures = append(h.CriticalFailures, agent)
			}
		}
	}

	if phase == PhaseResearch {
		if completeRounds == 0 {
			h.CanProceed = false
			h.Reason = "no debate rounds completed"
			return h
		}
		// A complete round outweighs a failed researcher step.
		h.CriticalFailures = nil
	}

	if len(h.CriticalFailures) > 0 {
		h.CanProceed = false
		h.Reason = fmt.Sprintf("critical failures in %s phase: %s", phase, strings.Join(h.CriticalFailures, ", "))
		return h
	}

	if len(h.PendingAgents) > 0 {
		h.CanProceed = false
		h.Reason = fmt.Sprintf("%s phase still has pending agents: %s", phase, strings.Join(h.PendingAgents, ", "))
		return h
	}

	return h
}

// FatalPhase reports whether a failed health check in the phase aborts the
// run outright instead of stalling it.
func FatalPhase(p Phase) bool {
	return p == PhaseResearch || p == PhaseTrading
}
