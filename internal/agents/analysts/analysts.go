// Package analysts implements the four analysis-phase agents. Each one
// fetches its data slice, reasons over it and persists a report insight.
package analysts

import (
	"context"
	"fmt"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/runtime"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

const systemPrompt = "You are a financial analyst on a multi-agent trading research team. Be specific, cite the data you were given, and keep your report focused."

const maxTokens = 4096

// body builds the shared analyst loop: fetch data, reason, persist.
func body(d agents.Deps, agent, dataKey string, fetch func(ctx context.Context, symbol string) (string, error)) runtime.AgentFunc {
	return func(ctx context.Context, task workflow.Task) error {
		data, err := fetch(ctx, task.Ticker)
		if err != nil {
			return fmt.Errorf("fetching data for %s: %w", agent, err)
		}

		prompt, err := agents.RenderPrompt(agent, map[string]string{
			"Ticker": task.Ticker,
			dataKey:  data,
		})
		if err != nil {
			return err
		}

		report, err := d.LLM.Call(ctx, systemPrompt, prompt, maxTokens)
		if err != nil {
			return err
		}

		won, err := d.Store.MergeInsight(ctx, task.RunID, agent, agents.ReportPayload{Report: report})
		if err != nil {
			return err
		}
		if !won {
			// The run settled while we were reasoning.
			return runtime.ErrLostRace
		}
		return nil
	}
}

// Market analyzes recent price action and technical conditions.
func Market(d agents.Deps) runtime.AgentFunc {
	return body(d, workflow.MarketAnalyst, "MarketData", d.Data.MarketContext)
}

// Social analyzes insider and public sentiment.
func Social(d agents.Deps) runtime.AgentFunc {
	return body(d, workflow.SocialAnalyst, "SentimentData", d.Data.SentimentContext)
}

// News analyzes recent coverage for catalysts and risks.
func News(d agents.Deps) runtime.AgentFunc {
	return body(d, workflow.NewsAnalyst, "NewsData", d.Data.NewsContext)
}

// Fundamentals analyzes valuation and financial quality.
func Fundamentals(d agents.Deps) runtime.AgentFunc {
	return body(d, workflow.FundamentalsAnalyst, "FundamentalsData", d.Data.FundamentalsContext)
}
