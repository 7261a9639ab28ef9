// Package coordinator implements the workflow state machine. It owns every
// phase transition: agents report completion signals here, and the
// coordinator decides whether the run advances, stalls, resumes or dies.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradecrew-ai/tradecrew/internal/invoker"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
	"github.com/tradecrew-ai/tradecrew/internal/store"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

// Options carries the per-run orchestration knobs.
type Options struct {
	MaxDebateRounds int
	AgentTimeout    time.Duration
	AgentMaxRetries int
}

// Coordinator consumes agent completion signals and drives runs through
// the phase topology. It holds no run state in memory; every decision is
// made against the store, and every transition goes through a conditional
// write so duplicate signal deliveries collapse to one effect.
type Coordinator struct {
	store *store.Store
	inv   invoker.Invoker
	log   *logging.Logger

	mu   sync.RWMutex
	opts Options
}

func New(st *store.Store, inv invoker.Invoker, opts Options, log *logging.Logger) *Coordinator {
	return &Coordinator{
		store: st,
		inv:   inv,
		opts:  opts,
		log:   log,
	}
}

// Tune replaces the orchestration knobs. Runs already in flight pick up
// the new values on their next invocation.
func (c *Coordinator) Tune(opts Options) {
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	c.log.Info("coordinator retuned",
		"max_debate_rounds", opts.MaxDebateRounds,
		"agent_timeout", opts.AgentTimeout,
		"agent_max_retries", opts.AgentMaxRetries)
}

func (c *Coordinator) options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// StartRun creates a run record with all steps seeded pending and fires
// the first agent of the first phase.
func (c *Coordinator) StartRun(ctx context.Context, ticker, userID string) (*workflow.Run, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	run := &workflow.Run{
		ID:           uuid.NewString(),
		Ticker:       ticker,
		UserID:       userID,
		Status:       workflow.RunPending,
		CurrentPhase: workflow.FirstPhase(),
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	if _, err := c.store.SetRunStatus(ctx, run.ID,
		[]workflow.RunStatus{workflow.RunPending}, workflow.RunRunning, ""); err != nil {
		return nil, err
	}
	run.Status = workflow.RunRunning

	first, err := workflow.FirstAgent(run.CurrentPhase)
	if err != nil {
		return nil, err
	}
	c.log.WithRun(run.ID).Info("run started", "ticker", ticker, "first_agent", first)
	if err := c.invokeAgent(ctx, run, run.CurrentPhase, first); err != nil {
		return nil, fmt.Errorf("invoking first agent: %w", err)
	}
	return run, nil
}

// HandleSignal adapts an invocation payload into OnSignal. The in-process
// dispatcher hands over the struct directly; the HTTP worker hands over raw
// JSON.
func (c *Coordinator) HandleSignal(ctx context.Context, payload any) error {
	switch v := payload.(type) {
	case workflow.Signal:
		return c.OnSignal(ctx, v)
	case *workflow.Signal:
		return c.OnSignal(ctx, *v)
	case json.RawMessage:
		var sig workflow.Signal
		if err := json.Unmarshal(v, &sig); err != nil {
			return fmt.Errorf("decoding signal: %w", err)
		}
		return c.OnSignal(ctx, sig)
	case []byte:
		var sig workflow.Signal
		if err := json.Unmarshal(v, &sig); err != nil {
			return fmt.Errorf("decoding signal: %w", err)
		}
		return c.OnSignal(ctx, sig)
	default:
		return fmt.Errorf("unsupported signal payload %T", payload)
	}
}

// OnSignal is the single entry point of the state machine.
func (c *Coordinator) OnSignal(ctx context.Context, sig workflow.Signal) error {
	log := c.log.WithRun(sig.RunID).WithPhase(string(sig.Phase)).WithAgent(sig.Agent)

	run, err := c.store.GetRun(ctx, sig.RunID)
	if err != nil {
		return err
	}
	if run == nil {
		log.Warn("signal for unknown run, dropping", "completion_type", sig.CompletionType)
		return nil
	}
	if run.Status.IsTerminal() {
		log.Info("signal for settled run, dropping",
			"status", run.Status, "completion_type", sig.CompletionType)
		return nil
	}

	switch sig.CompletionType {
	case workflow.CompletionNormal:
		// The agent already invoked its successor.
		log.Debug("normal completion acknowledged")
		return nil
	case workflow.CompletionLastInPhase:
		return c.onLastInPhase(ctx, run, sig, log)
	case workflow.CompletionFallbackInvoke:
		return c.onFallbackInvoke(ctx, run, sig, log)
	case workflow.CompletionAgentError:
		return c.onAgentError(ctx, run, sig, log)
	default:
		log.Warn("unknown completion type, dropping", "completion_type", sig.CompletionType)
		return nil
	}
}

// onLastInPhase runs the phase-health check and either advances the run,
// stalls it, or kills it.
func (c *Coordinator) onLastInPhase(ctx context.Context, run *workflow.Run, sig workflow.Signal, log *logging.Logger) error {
	steps, err := c.store.ListSteps(ctx, run.ID)
	if err != nil {
		return err
	}
	completed, err := c.store.CompleteRounds(ctx, run.ID)
	if err != nil {
		return err
	}

	health := workflow.CheckPhaseHealth(sig.Phase, steps, completed)
	if !health.CanProceed {
		if workflow.FatalPhase(sig.Phase) || len(health.CriticalFailures) > 0 {
			return c.failRun(ctx, run.ID, health.Reason, log)
		}
		log.Warn("phase stalled, not transitioning", "reason", health.Reason)
		return nil
	}

	next, ok := workflow.NextPhase(sig.Phase)
	if !ok {
		won, err := c.store.SetRunStatus(ctx, run.ID,
			[]workflow.RunStatus{workflow.RunPending, workflow.RunRunning}, workflow.RunCompleted, "")
		if err != nil {
			return err
		}
		if won {
			log.Info("run completed")
		}
		return nil
	}

	// Cancellation check right before the transition.
	run, err = c.store.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if run == nil || run.Status.IsTerminal() {
		log.Info("run settled before phase transition, dropping")
		return nil
	}

	advanced, err := c.store.SetRunPhase(ctx, run.ID, sig.Phase, next)
	if err != nil {
		return err
	}
	if !advanced {
		log.Info("phase already advanced by a duplicate signal", "next", next)
		return nil
	}

	first, err := workflow.FirstAgent(next)
	if err != nil {
		return err
	}
	log.Info("phase complete, advancing", "next_phase", next, "first_agent", first)
	return c.invokeAgent(ctx, run, next, first)
}

// onFallbackInvoke is the invocation path of last resort: the agent
// finished but could not hand off, so the coordinator invokes the intended
// successor itself.
func (c *Coordinator) onFallbackInvoke(ctx context.Context, run *workflow.Run, sig workflow.Signal, log *logging.Logger) error {
	if sig.FailedToInvoke == "" {
		log.Warn("fallback signal without a target, dropping")
		return nil
	}
	log.Warn("agent could not invoke successor, coordinator taking over", "target", sig.FailedToInvoke)
	return c.invokeAgent(ctx, run, sig.Phase, sig.FailedToInvoke)
}

// onAgentError applies the continuation policy to a classified failure.
func (c *Coordinator) onAgentError(ctx context.Context, run *workflow.Run, sig workflow.Signal, log *logging.Logger) error {
	errType := workflow.ClassifyError(sig.Error, sig.ErrorType)
	completed, err := c.store.CompleteRounds(ctx, run.ID)
	if err != nil {
		return err
	}

	decision := workflow.ShouldContinueAfterError(sig.Agent, errType, completed)
	log.Info("agent error received",
		"error_type", errType, "continue", decision.Continue, "reason", decision.Reason)
	if !decision.Continue {
		return c.failRun(ctx, run.ID, decision.Reason, log)
	}

	// A researcher failure with debate content skips straight to the
	// moderator. The surviving researcher's step is settled so the phase
	// health check sees a finished debate.
	switch sig.Agent {
	case workflow.BullResearcher, workflow.BearResearcher:
		other := workflow.BullResearcher
		if sig.Agent == workflow.BullResearcher {
			other = workflow.BearResearcher
		}
		if _, err := c.store.SetStepStatus(ctx, run.ID, sig.Phase, other,
			[]workflow.StepStatus{workflow.StepPending, workflow.StepRunning}, workflow.StepCompleted); err != nil {
			return err
		}
		log.Info("skipping to research manager", "complete_rounds", completed)
		return c.invokeAgent(ctx, run, sig.Phase, workflow.ResearchManager)
	}

	last, err := workflow.IsLastAgent(sig.Phase, sig.Agent)
	if err != nil {
		// Unknown (phase, agent) pairs are a programming-error class
		// failure, fatal rather than retried.
		return c.failRun(ctx, run.ID, err.Error(), log)
	}
	if last {
		resig := sig
		resig.CompletionType = workflow.CompletionLastInPhase
		return c.onLastInPhase(ctx, run, resig, log)
	}

	next, _, err := workflow.NextAgent(sig.Phase, sig.Agent)
	if err != nil {
		return c.failRun(ctx, run.ID, err.Error(), log)
	}
	log.Info("continuing past failed agent", "next", next)
	return c.invokeAgent(ctx, run, sig.Phase, next)
}

// Cancel requests cooperative cancellation. In-flight agent work is not
// aborted; its late writes are fenced off by the terminal run status.
func (c *Coordinator) Cancel(ctx context.Context, runID string) (bool, error) {
	won, err := c.store.SetRunStatus(ctx, runID,
		[]workflow.RunStatus{workflow.RunPending, workflow.RunRunning}, workflow.RunCancelled, "cancelled by user")
	if err != nil {
		return false, err
	}
	if won {
		c.log.WithRun(runID).Info("run cancelled")
	}
	return won, nil
}

// Resume restarts a failed or stuck run from its highest-priority broken
// step: the first errored step in topology order, else the first critical
// step still stuck open. Completed steps and debate rounds are untouched.
func (c *Coordinator) Resume(ctx context.Context, runID string) (string, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", fmt.Errorf("run %s not found", runID)
	}
	if run.Status == workflow.RunCompleted || run.Status == workflow.RunCancelled {
		return "", fmt.Errorf("run %s is %s and cannot be resumed", runID, run.Status)
	}

	steps, err := c.store.ListSteps(ctx, runID)
	if err != nil {
		return "", err
	}

	target, ok := resumeTarget(steps)
	if !ok {
		return "", fmt.Errorf("run %s has no failed or stuck step to resume", runID)
	}

	reset, err := c.store.ResetStep(ctx, runID, target.Phase, target.Agent)
	if err != nil {
		return "", err
	}
	if !reset {
		return "", fmt.Errorf("step %s/%s settled concurrently, not resuming", target.Phase, target.Agent)
	}

	if _, err := c.store.SetRunStatus(ctx, runID,
		[]workflow.RunStatus{workflow.RunError, workflow.RunPending, workflow.RunRunning},
		workflow.RunRunning, ""); err != nil {
		return "", err
	}
	if _, err := c.store.SetRunPhase(ctx, runID, run.CurrentPhase, target.Phase); err != nil {
		return "", err
	}

	c.log.WithRun(runID).Info("resuming run",
		"phase", target.Phase, "agent", target.Agent)
	run.Status = workflow.RunRunning
	if err := c.invokeAgent(ctx, run, target.Phase, target.Agent); err != nil {
		return "", err
	}
	return target.Agent, nil
}

// resumeTarget picks the step a resume restarts from. Steps arrive in
// topology order.
func resumeTarget(steps []workflow.Step) (workflow.Step, bool) {
	for _, s := range steps {
		if s.Status == workflow.StepError {
			return s, true
		}
	}
	for _, s := range steps {
		if workflow.IsCriticalAgent(s.Agent) &&
			(s.Status == workflow.StepPending || s.Status == workflow.StepRunning) {
			return s, true
		}
	}
	return workflow.Step{}, false
}

func (c *Coordinator) failRun(ctx context.Context, runID, reason string, log *logging.Logger) error {
	won, err := c.store.SetRunStatus(ctx, runID,
		[]workflow.RunStatus{workflow.RunPending, workflow.RunRunning}, workflow.RunError, reason)
	if err != nil {
		return err
	}
	if won {
		log.Error("run failed", "reason", reason)
	}
	return nil
}

func (c *Coordinator) invokeAgent(ctx context.Context, run *workflow.Run, phase workflow.Phase, agent string) error {
	opts := c.options()
	task := workflow.Task{
		RunID:    run.ID,
		Ticker:   run.Ticker,
		UserID:   run.UserID,
		Phase:    phase,
		Agent:    agent,
		Envelope: workflow.NewRetryEnvelope(invoker.AgentFunction(agent), opts.AgentTimeout, opts.AgentMaxRetries),
	}
	return c.inv.Invoke(ctx, invoker.AgentFunction(agent), task)
}
