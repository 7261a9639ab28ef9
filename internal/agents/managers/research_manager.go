// Package managers implements the adjudicating agents: the research
// manager closing the debate, the risk manager closing the risk review,
// and the portfolio manager issuing the final decision.
package managers

import (
	"context"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/runtime"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

const systemPrompt = "You are a senior decision-maker on a trading research team. Weigh the arguments you are given and commit to a clear, defensible call."

const maxTokens = 4096

// Research adjudicates the bull/bear debate into an investment verdict.
func Research(d agents.Deps) runtime.AgentFunc {
	return func(ctx context.Context, task workflow.Task) error {
		rounds, err := d.Store.ListRounds(ctx, task.RunID)
		if err != nil {
			return err
		}

		prompt, err := agents.RenderPrompt(workflow.ResearchManager, map[string]string{
			"Ticker": task.Ticker,
			"Debate": agents.Transcript(rounds),
		})
		if err != nil {
			return err
		}

		verdict, err := d.LLM.Call(ctx, systemPrompt, prompt, maxTokens)
		if err != nil {
			return err
		}

		won, err := d.Store.MergeInsight(ctx, task.RunID, workflow.ResearchManager, agents.ReportPayload{Report: verdict})
		if err != nil {
			return err
		}
		if !won {
			return runtime.ErrLostRace
		}
		return nil
	}
}
