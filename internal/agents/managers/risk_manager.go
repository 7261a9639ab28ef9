package managers

import (
	"context"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/runtime"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

// Risk adjudicates the three risk perspectives into final risk guidance.
func Risk(d agents.Deps) runtime.AgentFunc {
	return func(ctx context.Context, task workflow.Task) error {
		insights, err := d.Store.ListInsights(ctx, task.RunID)
		if err != nil {
			return err
		}

		prompt, err := agents.RenderPrompt(workflow.RiskManager, map[string]string{
			"Ticker":      task.Ticker,
			"TradePlan":   agents.Report(insights, workflow.Trader),
			"RiskyView":   agents.Report(insights, workflow.RiskyAnalyst),
			"SafeView":    agents.Report(insights, workflow.SafeAnalyst),
			"NeutralView": agents.Report(insights, workflow.NeutralAnalyst),
		})
		if err != nil {
			return err
		}

		guidance, err := d.LLM.Call(ctx, systemPrompt, prompt, maxTokens)
		if err != nil {
			return err
		}

		won, err := d.Store.MergeInsight(ctx, task.RunID, workflow.RiskManager, agents.ReportPayload{Report: guidance})
		if err != nil {
			return err
		}
		if !won {
			return runtime.ErrLostRace
		}
		return nil
	}
}
