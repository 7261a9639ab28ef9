package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

func TestRenderDecisionCompletedRun(t *testing.T) {
	run := &workflow.Run{
		ID:         "run-1",
		Ticker:     "NVDA",
		Status:     workflow.RunCompleted,
		Decision:   "BUY",
		Confidence: 0.8,
	}
	insights := map[string]json.RawMessage{
		workflow.PortfolioManager: json.RawMessage(`{"decision": {"reasoning": "cash headroom and a strong case"}}`),
	}

	out := renderDecision(run, insights)
	assert.Contains(t, out, "NVDA")
	assert.Contains(t, out, "BUY")
	assert.Contains(t, out, "80%")
	assert.Contains(t, out, "cash headroom and a strong case")
}

func TestRenderDecisionFailedRun(t *testing.T) {
	run := &workflow.Run{
		ID:     "run-1",
		Ticker: "NVDA",
		Status: workflow.RunError,
		Reason: "market_analyst failed: rate limit",
	}

	out := renderDecision(run, nil)
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "rate limit")
}

func TestRenderRunStatusMarksSteps(t *testing.T) {
	run := &workflow.Run{ID: "run-1", Ticker: "NVDA", Status: workflow.RunRunning, CurrentPhase: workflow.PhaseResearch}
	steps := []workflow.Step{
		{Phase: workflow.PhaseAnalysis, Agent: workflow.MarketAnalyst, Status: workflow.StepCompleted},
		{Phase: workflow.PhaseResearch, Agent: workflow.BullResearcher, Status: workflow.StepRunning},
		{Phase: workflow.PhaseAnalysis, Agent: workflow.NewsAnalyst, Status: workflow.StepError, Error: "timeout"},
	}

	out := renderRunStatus(run, steps)
	assert.Contains(t, out, workflow.MarketAnalyst)
	assert.Contains(t, out, "timeout")
}

func TestRenderRunListEmpty(t *testing.T) {
	assert.Contains(t, renderRunList(nil), "no runs")
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"analyze", "serve", "status", "retry", "cancel", "init", "version"} {
		assert.Contains(t, names, want)
	}

	cmd, _, err := root.Find([]string{"analyze"})
	require.NoError(t, err)
	assert.NotNil(t, cmd.Flags().Lookup("wait"))
}
