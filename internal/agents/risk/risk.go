// Package risk implements the three risk-debate perspectives on the
// trader's plan. The risk manager that adjudicates them lives in managers.
package risk

import (
	"context"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/runtime"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

const systemPrompt = "You are a risk analyst on a trading research team. Stress-test the proposed trade from your assigned perspective with concrete, evidence-based points."

const maxTokens = 4096

// Risky argues the aggressive, high-reward perspective.
func Risky(d agents.Deps) runtime.AgentFunc {
	return perspective(d, workflow.RiskyAnalyst, nil)
}

// Safe argues the conservative, capital-preservation perspective.
func Safe(d agents.Deps) runtime.AgentFunc {
	return perspective(d, workflow.SafeAnalyst, nil)
}

// Neutral weighs the two earlier perspectives against each other.
func Neutral(d agents.Deps) runtime.AgentFunc {
	return perspective(d, workflow.NeutralAnalyst, []string{workflow.RiskyAnalyst, workflow.SafeAnalyst})
}

// perspective builds a risk-analyst body. priorViews names earlier
// perspectives the prompt should include.
func perspective(d agents.Deps, agent string, priorViews []string) runtime.AgentFunc {
	return func(ctx context.Context, task workflow.Task) error {
		insights, err := d.Store.ListInsights(ctx, task.RunID)
		if err != nil {
			return err
		}

		vars := map[string]string{
			"Ticker":    task.Ticker,
			"TradePlan": agents.Report(insights, workflow.Trader),
		}
		for _, prior := range priorViews {
			switch prior {
			case workflow.RiskyAnalyst:
				vars["RiskyView"] = agents.Report(insights, prior)
			case workflow.SafeAnalyst:
				vars["SafeView"] = agents.Report(insights, prior)
			}
		}

		prompt, err := agents.RenderPrompt(agent, vars)
		if err != nil {
			return err
		}

		view, err := d.LLM.Call(ctx, systemPrompt, prompt, maxTokens)
		if err != nil {
			return err
		}

		won, err := d.Store.MergeInsight(ctx, task.RunID, agent, agents.ReportPayload{Report: view})
		if err != nil {
			return err
		}
		if !won {
			return runtime.ErrLostRace
		}
		return nil
	}
}
