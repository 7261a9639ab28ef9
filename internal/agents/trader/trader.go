// Package trader turns the research verdict into a concrete trading plan.
package trader

import (
	"context"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/runtime"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

const systemPrompt = "You are a trader on a multi-agent research team. Turn research conclusions into concrete, executable trade plans with explicit levels."

const maxTokens = 4096

// New builds the trading-phase agent body.
func New(d agents.Deps) runtime.AgentFunc {
	return func(ctx context.Context, task workflow.Task) error {
		insights, err := d.Store.ListInsights(ctx, task.RunID)
		if err != nil {
			return err
		}

		verdict := agents.Report(insights, workflow.ResearchManager)
		if verdict == "" {
			// The manager failed; plan straight off the debate record.
			rounds, err := d.Store.ListRounds(ctx, task.RunID)
			if err != nil {
				return err
			}
			verdict = agents.Transcript(rounds)
		}

		prompt, err := agents.RenderPrompt(workflow.Trader, map[string]string{
			"Ticker":             task.Ticker,
			"Verdict":            verdict,
			"MarketReport":       agents.Report(insights, workflow.MarketAnalyst),
			"FundamentalsReport": agents.Report(insights, workflow.FundamentalsAnalyst),
		})
		if err != nil {
			return err
		}

		plan, err := d.LLM.Call(ctx, systemPrompt, prompt, maxTokens)
		if err != nil {
			return err
		}

		won, err := d.Store.MergeInsight(ctx, task.RunID, workflow.Trader, agents.ReportPayload{Report: plan})
		if err != nil {
			return err
		}
		if !won {
			return runtime.ErrLostRace
		}
		return nil
	}
}
