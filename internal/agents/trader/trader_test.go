package trader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
	"github.com/tradecrew-ai/tradecrew/internal/store"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

type fakeLLM struct {
	reply      string
	lastPrompt string
}

func (f *fakeLLM) Call(_ context.Context, _, userPrompt string, _ int) (string, error) {
	f.lastPrompt = userPrompt
	return f.reply, nil
}

func newDeps(t *testing.T, llm *fakeLLM) agents.Deps {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	d := agents.Deps{
		Store:  st,
		LLM:    llm,
		Debate: workflow.NewDebateEngine(2),
		Log:    logging.NewNop(),
	}
	require.NoError(t, st.CreateRun(context.Background(), &workflow.Run{
		ID:           "run-1",
		Ticker:       "NVDA",
		UserID:       "u1",
		Status:       workflow.RunRunning,
		CurrentPhase: workflow.PhaseTrading,
	}))
	return d
}

func TestTraderPlansFromVerdict(t *testing.T) {
	llm := &fakeLLM{reply: "long 120, stop 110\nFINAL TRANSACTION PROPOSAL: **BUY**"}
	d := newDeps(t, llm)

	won, err := d.Store.MergeInsight(context.Background(), "run-1", workflow.ResearchManager, agents.ReportPayload{Report: "bull case wins"})
	require.NoError(t, err)
	require.True(t, won)

	task := workflow.Task{RunID: "run-1", Ticker: "NVDA", Phase: workflow.PhaseTrading, Agent: workflow.Trader}
	require.NoError(t, New(d)(context.Background(), task))

	assert.Contains(t, llm.lastPrompt, "bull case wins")

	insights, err := d.Store.ListInsights(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Contains(t, agents.Report(insights, workflow.Trader), "FINAL TRANSACTION PROPOSAL")
}

func TestTraderFallsBackToDebateTranscript(t *testing.T) {
	llm := &fakeLLM{reply: "plan"}
	d := newDeps(t, llm)

	won, err := d.Store.AppendDebateText(context.Background(), "run-1", 1, store.SideBull, "bull argument survives", nil)
	require.NoError(t, err)
	require.True(t, won)
	won, err = d.Store.AppendDebateText(context.Background(), "run-1", 1, store.SideBear, "bear argument", nil)
	require.NoError(t, err)
	require.True(t, won)

	task := workflow.Task{RunID: "run-1", Ticker: "NVDA", Phase: workflow.PhaseTrading, Agent: workflow.Trader}
	require.NoError(t, New(d)(context.Background(), task))

	// With no manager verdict the raw debate backs the plan.
	assert.Contains(t, llm.lastPrompt, "bull argument survives")
}
