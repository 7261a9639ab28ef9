// Package researchers implements the bull and bear debate agents. Their
// writes are conditional: the first attempt to argue a side of a round
// wins, and a losing attempt drops its invocation instead of chaining.
package researchers

import (
	"context"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/runtime"
	"github.com/tradecrew-ai/tradecrew/internal/store"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

const systemPrompt = "You are a debate participant on a trading research team. Argue your assigned side with evidence and engage your opponent's points directly."

const maxTokens = 4096

// Bull argues the long case for the current round.
func Bull(d agents.Deps) runtime.AgentFunc {
	return func(ctx context.Context, task workflow.Task) error {
		rounds, err := d.Store.ListRounds(ctx, task.RunID)
		if err != nil {
			return err
		}
		round := workflow.CurrentRound(rounds)
		if round > d.Debate.Rounds() {
			// Stale attempt from a round the debate already moved past.
			return runtime.ErrLostRace
		}

		// The bear's closing argument of the previous round is what the
		// bull must answer.
		opponent := ""
		if len(rounds) > 0 {
			opponent = rounds[len(rounds)-1].BearText
		}

		text, err := argue(ctx, d, task, workflow.BullResearcher, rounds, opponent)
		if err != nil {
			return err
		}

		won, err := d.Store.AppendDebateText(ctx, task.RunID, round, store.SideBull, text, agents.KeyPoints(text))
		if err != nil {
			return err
		}
		if !won {
			return runtime.ErrLostRace
		}
		return nil
	}
}

// Bear rebuts the bull argument of the round in progress.
func Bear(d agents.Deps) runtime.AgentFunc {
	return func(ctx context.Context, task workflow.Task) error {
		rounds, err := d.Store.ListRounds(ctx, task.RunID)
		if err != nil {
			return err
		}

		// The bear answers the open round: bull written, bear still empty.
		round, opponent := 0, ""
		for _, r := range rounds {
			if r.BullText != "" && r.BearText == "" {
				round, opponent = r.Number, r.BullText
				break
			}
		}
		if round == 0 {
			// No bull argument is waiting; a concurrent attempt got here first.
			return runtime.ErrLostRace
		}

		text, err := argue(ctx, d, task, workflow.BearResearcher, rounds, opponent)
		if err != nil {
			return err
		}

		won, err := d.Store.AppendDebateText(ctx, task.RunID, round, store.SideBear, text, agents.KeyPoints(text))
		if err != nil {
			return err
		}
		if !won {
			return runtime.ErrLostRace
		}
		return nil
	}
}

func argue(ctx context.Context, d agents.Deps, task workflow.Task, agent string, rounds []workflow.DebateRound, opponent string) (string, error) {
	insights, err := d.Store.ListInsights(ctx, task.RunID)
	if err != nil {
		return "", err
	}

	prompt, err := agents.RenderPrompt(agent, map[string]string{
		"Ticker":             task.Ticker,
		"MarketReport":       agents.Report(insights, workflow.MarketAnalyst),
		"SentimentReport":    agents.Report(insights, workflow.SocialAnalyst),
		"NewsReport":         agents.Report(insights, workflow.NewsAnalyst),
		"FundamentalsReport": agents.Report(insights, workflow.FundamentalsAnalyst),
		"History":            agents.Transcript(rounds),
		"Opponent":           opponent,
	})
	if err != nil {
		return "", err
	}

	return d.LLM.Call(ctx, systemPrompt, prompt, maxTokens)
}
