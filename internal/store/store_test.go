package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tradecrew.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRun(t *testing.T, s *Store) *workflow.Run {
	t.Helper()
	run := &workflow.Run{
		ID:           "run-1",
		Ticker:       "XYZ",
		UserID:       "u-1",
		Status:       workflow.RunRunning,
		CurrentPhase: workflow.PhaseAnalysis,
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func TestCreateRunSeedsSteps(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)

	steps, err := s.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)

	want := 0
	for _, p := range workflow.AllPhases() {
		want += len(workflow.PhaseAgents(p))
	}
	require.Len(t, steps, want)
	for _, st := range steps {
		assert.Equal(t, workflow.StepPending, st.Status)
	}
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStore(t)
	run, err := s.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestSetStepStatusConditional(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	ok, err := s.SetStepStatus(ctx, run.ID, workflow.PhaseAnalysis, workflow.MarketAnalyst,
		[]workflow.StepStatus{workflow.StepPending}, workflow.StepRunning)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second mover loses: the step is no longer pending.
	ok, err = s.SetStepStatus(ctx, run.ID, workflow.PhaseAnalysis, workflow.MarketAnalyst,
		[]workflow.StepStatus{workflow.StepPending}, workflow.StepRunning)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.SetStepStatus(ctx, run.ID, workflow.PhaseAnalysis, workflow.MarketAnalyst,
		[]workflow.StepStatus{workflow.StepRunning, workflow.StepPending}, workflow.StepCompleted)
	require.NoError(t, err)
	assert.True(t, ok)

	// A completed step never moves again, even back to completed.
	ok, err = s.SetStepStatus(ctx, run.ID, workflow.PhaseAnalysis, workflow.MarketAnalyst,
		[]workflow.StepStatus{workflow.StepRunning, workflow.StepPending}, workflow.StepCompleted)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetRunStatusTerminalOnce(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	ok, err := s.SetRunStatus(ctx, run.ID,
		[]workflow.RunStatus{workflow.RunPending, workflow.RunRunning}, workflow.RunCompleted, "")
	require.NoError(t, err)
	assert.True(t, ok)

	// Duplicate delivery of the final signal loses the conditional write.
	ok, err = s.SetRunStatus(ctx, run.ID,
		[]workflow.RunStatus{workflow.RunPending, workflow.RunRunning}, workflow.RunCompleted, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOperatorRetryTransition(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	ok, err := s.SetRunStatus(ctx, run.ID,
		[]workflow.RunStatus{workflow.RunRunning}, workflow.RunError, "trader failed")
	require.NoError(t, err)
	require.True(t, ok)

	// error -> running is the one sanctioned backwards transition.
	ok, err = s.SetRunStatus(ctx, run.ID,
		[]workflow.RunStatus{workflow.RunError}, workflow.RunRunning, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMergeInsightDeepMerge(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	ok, err := s.MergeInsight(ctx, run.ID, workflow.MarketAnalyst, map[string]any{
		"summary": "uptrend",
		"metrics": map[string]any{"rsi": 61.2},
	})
	require.NoError(t, err)
	require.True(t, ok)

	// Merging a disjoint path must not clobber the existing fields.
	ok, err = s.MergeInsight(ctx, run.ID, workflow.MarketAnalyst, map[string]any{
		"metrics": map[string]any{"macd": 0.8},
	})
	require.NoError(t, err)
	require.True(t, ok)

	in, err := s.GetInsight(ctx, run.ID, workflow.MarketAnalyst)
	require.NoError(t, err)
	require.NotNil(t, in)

	var got struct {
		Summary string `json:"summary"`
		Metrics struct {
			RSI  float64 `json:"rsi"`
			MACD float64 `json:"macd"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(in.Payload, &got))
	assert.Equal(t, "uptrend", got.Summary)
	assert.Equal(t, 61.2, got.Metrics.RSI)
	assert.Equal(t, 0.8, got.Metrics.MACD)
}

func TestMergeInsightFencedAfterTerminal(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	_, err := s.SetRunStatus(ctx, run.ID,
		[]workflow.RunStatus{workflow.RunRunning}, workflow.RunError, "boom")
	require.NoError(t, err)

	// The slow original writer arrives after the run died: fenced.
	ok, err := s.MergeInsight(ctx, run.ID, workflow.MarketAnalyst, map[string]any{"late": true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendDebateTextFirstWriterWins(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	ok, err := s.AppendDebateText(ctx, run.ID, 1, SideBull, "growth case", []string{"revenue"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Watchdog duplicate of the same side loses.
	ok, err = s.AppendDebateText(ctx, run.ID, 1, SideBull, "growth case again", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AppendDebateText(ctx, run.ID, 1, SideBear, "valuation case", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.CompleteRounds(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rounds, err := s.ListRounds(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, "growth case", rounds[0].BullText)
	assert.Equal(t, []string{"revenue"}, rounds[0].BullPoints)
}

func TestIncompleteRoundNotCounted(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	_, err := s.AppendDebateText(ctx, run.ID, 1, SideBull, "only one side", nil)
	require.NoError(t, err)

	n, err := s.CompleteRounds(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestResetStepNeverTouchesCompleted(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	_, err := s.SetStepStatus(ctx, run.ID, workflow.PhaseAnalysis, workflow.MarketAnalyst,
		[]workflow.StepStatus{workflow.StepPending}, workflow.StepCompleted)
	require.NoError(t, err)

	ok, err := s.ResetStep(ctx, run.ID, workflow.PhaseAnalysis, workflow.MarketAnalyst)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.MarkStepError(ctx, run.ID, workflow.PhaseTrading, workflow.Trader, "boom", workflow.ErrAI)
	require.NoError(t, err)

	ok, err = s.ResetStep(ctx, run.ID, workflow.PhaseTrading, workflow.Trader)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetDecisionOnce(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	ok, err := s.SetDecision(ctx, run.ID, "BUY", 0.8)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetDecision(ctx, run.ID, "SELL", 0.9)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "BUY", got.Decision)
}
