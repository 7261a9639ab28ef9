package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecrew-ai/tradecrew/internal/coordinator"
	"github.com/tradecrew-ai/tradecrew/internal/invoker"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
	"github.com/tradecrew-ai/tradecrew/internal/store"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

type capturingInvoker struct {
	mu    sync.Mutex
	calls []string
}

func (c *capturingInvoker) Invoke(_ context.Context, function string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, function)
	return nil
}

type harness struct {
	ts    *httptest.Server
	st    *store.Store
	inv   *capturingInvoker
	tasks chan workflow.Task
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	inv := &capturingInvoker{}
	coord := coordinator.New(st, inv, coordinator.Options{
		MaxDebateRounds: 2,
		AgentTimeout:    time.Minute,
		AgentMaxRetries: 3,
	}, logging.NewNop())

	tasks := make(chan workflow.Task, 4)
	runAgent := func(_ context.Context, _ string, task workflow.Task) error {
		tasks <- task
		return nil
	}

	srv := New(coord, st, runAgent, logging.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{ts: ts, st: st, inv: inv, tasks: tasks}
}

func (h *harness) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.ts.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func (h *harness) startRun(t *testing.T) workflow.Run {
	t.Helper()
	resp := h.post(t, "/api/v1/runs", map[string]string{"ticker": "NVDA", "user_id": "u1"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var run workflow.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	return run
}

func TestStartRunEndpoint(t *testing.T) {
	h := newHarness(t)

	run := h.startRun(t)
	assert.Equal(t, "NVDA", run.Ticker)
	assert.NotEmpty(t, run.ID)

	h.inv.mu.Lock()
	defer h.inv.mu.Unlock()
	assert.Contains(t, h.inv.calls, invoker.AgentFunction(workflow.MarketAnalyst))
}

func TestStartRunRejectsBadBody(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Post(h.ts.URL+"/api/v1/runs", "application/json", bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRunAndSteps(t *testing.T) {
	h := newHarness(t)
	run := h.startRun(t)

	resp, err := http.Get(h.ts.URL + "/api/v1/runs/" + run.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(h.ts.URL + "/api/v1/runs/" + run.ID + "/steps")
	require.NoError(t, err)
	defer resp2.Body.Close()

	var steps []workflow.Step
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&steps))
	assert.Len(t, steps, 13)
}

func TestGetUnknownRunIs404(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/api/v1/runs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRunOnce(t *testing.T) {
	h := newHarness(t)
	run := h.startRun(t)

	resp := h.post(t, "/api/v1/runs/"+run.ID+"/cancel", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.post(t, "/api/v1/runs/"+run.ID+"/cancel", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestInvokeAgentEndpointRunsDetached(t *testing.T) {
	h := newHarness(t)

	task := workflow.Task{
		RunID:    "run-9",
		Ticker:   "NVDA",
		Phase:    workflow.PhaseAnalysis,
		Agent:    workflow.MarketAnalyst,
		Envelope: workflow.NewRetryEnvelope(invoker.AgentFunction(workflow.MarketAnalyst), time.Minute, 3),
	}
	resp := h.post(t, "/v1/invoke/agent-"+workflow.MarketAnalyst, task)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case got := <-h.tasks:
		assert.Equal(t, "run-9", got.RunID)
		assert.Equal(t, workflow.MarketAnalyst, got.Agent)
	case <-time.After(2 * time.Second):
		t.Fatal("agent task never dispatched")
	}
}

func TestInvokeCoordinatorEndpointAcceptsSignal(t *testing.T) {
	h := newHarness(t)

	sig := workflow.Signal{
		RunID:          "unknown-run",
		Phase:          workflow.PhaseAnalysis,
		Agent:          workflow.MarketAnalyst,
		CompletionType: workflow.CompletionNormal,
	}
	resp := h.post(t, "/v1/invoke/coordinator", sig)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out["success"])
}

func TestInvokeUnknownFunctionIs404(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/v1/invoke/not-a-function", map[string]string{})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
