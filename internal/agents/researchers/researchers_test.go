package researchers

import (
	"context"
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
		Data:   dataflows.NewService("", t.TempDir(), false, false),
		Debate: workflow.NewDebateEngine(2),
		Log:    logging.NewNop(),
	}
	require.NoError(t, st.CreateRun(context.Background(), &workflow.Run{
		ID:           "run-1",
		Ticker:       "NVDA",
		UserID:       "u1",
		Status:       workflow.RunRunning,
		CurrentPhase: workflow.PhaseResearch,
	}))
	return d
}

func task(agent string) workflow.Task {
	return workflow.Task{RunID: "run-1", Ticker: "NVDA", Phase: workflow.PhaseResearch, Agent: agent}
}

func appendSide(t *testing.T, d agents.Deps, round int, side store.DebateSide, text string) {
	t.Helper()
	won, err := d.Store.AppendDebateText(context.Background(), "run-1", round, side, text, nil)
	require.NoError(t, err)
	require.True(t, won)
}

func TestBullOpensRoundOne(t *testing.T) {
	llm := &fakeLLM{reply: "the growth case"}
	d := newDeps(t, llm)

	require.NoError(t, Bull(d)(context.Background(), task(workflow.BullResearcher)))

	rounds, err := d.Store.ListRounds(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, "the growth case", rounds[0].BullText)
	assert.Empty(t, rounds[0].BearText)
}

func TestBearRebutsOpenRound(t *testing.T) {
	llm := &fakeLLM{reply: "the valuation problem"}
	d := newDeps(t, llm)
	appendSide(t, d, 1, store.SideBull, "the growth case")

	require.NoError(t, Bear(d)(context.Background(), task(workflow.BearResearcher)))

	assert.Contains(t, llm.lastPrompt, "the growth case")

	rounds, err := d.Store.ListRounds(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.True(t, rounds[0].Complete())
}

func TestBullAnswersPreviousBear(t *testing.T) {
	llm := &fakeLLM{reply: "round two bull"}
	d := newDeps(t, llm)
	appendSide(t, d, 1, store.SideBull, "round one bull")
	appendSide(t, d, 1, store.SideBear, "round one bear")

	require.NoError(t, Bull(d)(context.Background(), task(workflow.BullResearcher)))

	assert.Contains(t, llm.lastPrompt, "round one bear")

	rounds, err := d.Store.ListRounds(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, "round two bull", rounds[1].BullText)
}

func TestDuplicateBullLosesRace(t *testing.T) {
	d := newDeps(t, &fakeLLM{reply: "late duplicate"})
	appendSide(t, d, 1, store.SideBull, "the first writer")

	err := Bull(d)(context.Background(), task(workflow.BullResearcher))
	assert.ErrorIs(t, err, runtime.ErrLostRace)

	rounds, lerr := d.Store.ListRounds(context.Background(), "run-1")
	require.NoError(t, lerr)
	require.Len(t, rounds, 1)
	assert.Equal(t, "the first writer", rounds[0].BullText)
}

func TestStaleBullBeyondMaxRoundsDrops(t *testing.T) {
	d := newDeps(t, &fakeLLM{reply: "phantom round"})
	appendSide(t, d, 1, store.SideBull, "b1")
	appendSide(t, d, 1, store.SideBear, "r1")
	appendSide(t, d, 2, store.SideBull, "b2")
	appendSide(t, d, 2, store.SideBear, "r2")

	err := Bull(d)(context.Background(), task(workflow.BullResearcher))
	assert.ErrorIs(t, err, runtime.ErrLostRace)

	rounds, lerr := d.Store.ListRounds(context.Background(), "run-1")
	require.NoError(t, lerr)
	assert.Len(t, rounds, 2)
}

func TestBearWithoutOpenRoundDrops(t *testing.T) {
	d := newDeps(t, &fakeLLM{reply: "nothing to rebut"})
	appendSide(t, d, 1, store.SideBull, "b1")
	appendSide(t, d, 1, store.SideBear, "r1")

	err := Bear(d)(context.Background(), task(workflow.BearResearcher))
	assert.ErrorIs(t, err, runtime.ErrLostRace)
}
