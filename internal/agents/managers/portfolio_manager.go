package managers

import (
	"context"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/broker"
	"github.com/tradecrew-ai/tradecrew/internal/runtime"
	"github.com/tradecrew-ai/tradecrew/internal/signal"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

// portfolioPayload is the portfolio manager's insight: the extracted
// decision alongside the full reasoning text.
type portfolioPayload struct {
	Report   string          `json:"report"`
	Decision signal.Decision `json:"decision"`
}

// Portfolio issues the final decision against the live account state.
func Portfolio(d agents.Deps) runtime.AgentFunc {
	return func(ctx context.Context, task workflow.Task) error {
		insights, err := d.Store.ListInsights(ctx, task.RunID)
		if err != nil {
			return err
		}

		guidance := agents.Report(insights, workflow.RiskManager)
		if guidance == "" {
			guidance = agents.Report(insights, workflow.Trader)
		}

		prompt, err := agents.RenderPrompt(workflow.PortfolioManager, map[string]string{
			"Ticker":           task.Ticker,
			"RiskGuidance":     guidance,
			"PortfolioContext": broker.PortfolioContext(ctx, d.Broker, task.Ticker),
		})
		if err != nil {
			return err
		}

		out, err := d.LLM.Call(ctx, systemPrompt, prompt, maxTokens)
		if err != nil {
			return err
		}

		decision := signal.Extract(out)

		won, err := d.Store.MergeInsight(ctx, task.RunID, workflow.PortfolioManager, portfolioPayload{Report: out, Decision: decision})
		if err != nil {
			return err
		}
		if !won {
			return runtime.ErrLostRace
		}

		// First decision wins; a duplicate attempt backs off without error.
		won, err = d.Store.SetDecision(ctx, task.RunID, decision.Action, decision.Confidence)
		if err != nil {
			return err
		}
		if !won {
			return runtime.ErrLostRace
		}
		return nil
	}
}
