package analysts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/dataflows"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
	"github.com/tradecrew-ai/tradecrew/internal/runtime"
	"github.com/tradecrew-ai/tradecrew/internal/store"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

type fakeLLM struct {
	reply      string
	err        error
	lastPrompt string
}

func (f *fakeLLM) Call(_ context.Context, _, userPrompt string, _ int) (string, error) {
	f.lastPrompt = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newDeps(t *testing.T, llm *fakeLLM) agents.Deps {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return agents.Deps{
		Store:  st,
		LLM:    llm,
		Data:   dataflows.NewService("", t.TempDir(), false, false),
		Debate: workflow.NewDebateEngine(2),
		Log:    logging.NewNop(),
	}
}

func seedRun(t *testing.T, d agents.Deps, status workflow.RunStatus) {
	t.Helper()
	require.NoError(t, d.Store.CreateRun(context.Background(), &workflow.Run{
		ID:           "run-1",
		Ticker:       "NVDA",
		UserID:       "u1",
		Status:       status,
		CurrentPhase: workflow.PhaseAnalysis,
	}))
}

func TestMarketAnalystPersistsReport(t *testing.T) {
	llm := &fakeLLM{reply: "trend is up"}
	d := newDeps(t, llm)
	seedRun(t, d, workflow.RunRunning)

	task := workflow.Task{RunID: "run-1", Ticker: "NVDA", Phase: workflow.PhaseAnalysis, Agent: workflow.MarketAnalyst}
	require.NoError(t, Market(d)(context.Background(), task))

	assert.Contains(t, llm.lastPrompt, "NVDA")

	insights, err := d.Store.ListInsights(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "trend is up", agents.Report(insights, workflow.MarketAnalyst))
}

func TestAnalystSurfacesLLMError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("rate limit exceeded")}
	d := newDeps(t, llm)
	seedRun(t, d, workflow.RunRunning)

	task := workflow.Task{RunID: "run-1", Ticker: "NVDA", Phase: workflow.PhaseAnalysis, Agent: workflow.NewsAnalyst}
	err := News(d)(context.Background(), task)
	require.Error(t, err)

	insights, lerr := d.Store.ListInsights(context.Background(), "run-1")
	require.NoError(t, lerr)
	assert.Empty(t, insights)
}

func TestAnalystLosesRaceAfterRunSettles(t *testing.T) {
	llm := &fakeLLM{reply: "sentiment mixed"}
	d := newDeps(t, llm)
	seedRun(t, d, workflow.RunCompleted)

	task := workflow.Task{RunID: "run-1", Ticker: "NVDA", Phase: workflow.PhaseAnalysis, Agent: workflow.SocialAnalyst}
	err := Social(d)(context.Background(), task)
	assert.ErrorIs(t, err, runtime.ErrLostRace)
}

func TestEveryAnalystHasDistinctPromptData(t *testing.T) {
	llm := &fakeLLM{reply: "report"}
	d := newDeps(t, llm)
	seedRun(t, d, workflow.RunRunning)

	bodies := map[string]runtime.AgentFunc{
		workflow.MarketAnalyst:       Market(d),
		workflow.SocialAnalyst:       Social(d),
		workflow.NewsAnalyst:         News(d),
		workflow.FundamentalsAnalyst: Fundamentals(d),
	}
	for agent, body := range bodies {
		task := workflow.Task{RunID: "run-1", Ticker: "NVDA", Phase: workflow.PhaseAnalysis, Agent: agent}
		require.NoError(t, body(context.Background(), task), agent)
		// Offline mode still renders a complete prompt.
		assert.NotContains(t, llm.lastPrompt, "{{.", agent)
	}

	insights, err := d.Store.ListInsights(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, insights, 4)
}
