package workflow

import "fmt"

// Phase represents a stage in the analysis pipeline.
type Phase string

const (
	PhaseAnalysis  Phase = "analysis"
	PhaseResearch  Phase = "research"
	PhaseTrading   Phase = "trading"
	PhaseRisk      Phase = "risk"
	PhasePortfolio Phase = "portfolio"
)

// Agent names, one per unit of work in the pipeline.
const (
	MarketAnalyst       = "market_analyst"
	SocialAnalyst       = "social_analyst"
	NewsAnalyst         = "news_analyst"
	FundamentalsAnalyst = "fundamentals_analyst"

	BullResearcher  = "bull_researcher"
	BearResearcher  = "bear_researcher"
	ResearchManager = "research_manager"

	Trader = "trader"

	RiskyAnalyst   = "risky_analyst"
	SafeAnalyst    = "safe_analyst"
	NeutralAnalyst = "neutral_analyst"
	RiskManager    = "risk_manager"

	PortfolioManager = "portfolio_manager"
)

// phaseAgents is the canonical topology. Order within a phase is execution
// order; other components consult this table and never hard-code hops.
var phaseAgents = map[Phase][]string{
	PhaseAnalysis:  {MarketAnalyst, SocialAnalyst, NewsAnalyst, FundamentalsAnalyst},
	PhaseResearch:  {BullResearcher, BearResearcher, ResearchManager},
	PhaseTrading:   {Trader},
	PhaseRisk:      {RiskyAnalyst, SafeAnalyst, NeutralAnalyst, RiskManager},
	PhasePortfolio: {PortfolioManager},
}

var phaseOrder = []Phase{PhaseAnalysis, PhaseResearch, PhaseTrading, PhaseRisk, PhasePortfolio}

// ErrUnknownStep is returned for (phase, agent) pairs outside the topology.
// It marks a programming error, never a retryable condition.
type ErrUnknownStep struct {
	Phase Phase
	Agent string
}

func (e *ErrUnknownStep) Error() string {
	return fmt.Sprintf("unknown step %s/%s", e.Phase, e.Agent)
}

// AllPhases returns the phases in execution order.
func AllPhases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// FirstPhase returns the first phase of the pipeline.
func FirstPhase() Phase {
	return phaseOrder[0]
}

// ValidPhase checks if a phase string is part of the topology.
func ValidPhase(p Phase) bool {
	_, ok := phaseAgents[p]
	return ok
}

// PhaseAgents returns the ordered agent list of a phase.
func PhaseAgents(p Phase) []string {
	agents := phaseAgents[p]
	out := make([]string, len(agents))
	copy(out, agents)
	return out
}

// FirstAgent returns the first agent of a phase.
func FirstAgent(p Phase) (string, error) {
	agents, ok := phaseAgents[p]
	if !ok || len(agents) == 0 {
		return "", &ErrUnknownStep{Phase: p}
	}
	return agents[0], nil
}

// NextAgent returns the agent following current within the phase, or
// ("", false, nil) when current is the last agent of the phase.
func NextAgent(p Phase, current string) (next string, ok bool, err error) {
	agents, found := phaseAgents[p]
	if !found {
		return "", false, &ErrUnknownStep{Phase: p, Agent: current}
	}
	for i, a := range agents {
		if a != current {
			continue
		}
		if i == len(agents)-1 {
			return "", false, nil
		}
		return agents[i+1], true, nil
	}
	return "", false, &ErrUnknownStep{Phase: p, Agent: current}
}

// IsLastAgent reports whether agent is the last in its phase.
func IsLastAgent(p Phase, agent string) (bool, error) {
	_, ok, err := NextAgent(p, agent)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// NextPhase returns the phase following p, or ("", false) for the final phase.
func NextPhase(p Phase) (Phase, bool) {
	for i, cur := range phaseOrder {
		if cur == p && i < len(phaseOrder)-1 {
			return phaseOrder[i+1], true
		}
	}
	return "", false
}
