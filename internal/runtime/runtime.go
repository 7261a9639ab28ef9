// Package runtime wraps agent execution with the shared per-agent
// boilerplate: run-cancellation check, step claiming, the watchdog lease,
// error classification and completion signalling back to the coordinator.
package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradecrew-ai/tradecrew/internal/invoker"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
	"github.com/tradecrew-ai/tradecrew/internal/store"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

// ErrLostRace is returned by an agent body whose conditional domain write
// (a debate-round side, typically) lost to a concurrent attempt. The runner
// drops the invocation without advancing, so only the winning attempt
// chains to the successor.
var ErrLostRace = errors.New("lost conditional write to a concurrent attempt")

// AgentFunc is one agent's unit of work, run under the supervisor.
type AgentFunc func(ctx context.Context, task workflow.Task) error

// Runner executes agent tasks. It claims the step, arms the watchdog lease,
// runs the agent body and settles the step through the store's conditional
// writes, so duplicate and watchdog-retried invocations of the same step
// collapse to a single winner.
type Runner struct {
	store  *store.Store
	inv    invoker.Invoker
	debate *workflow.DebateEngine
	log    *logging.Logger
}

func NewRunner(st *store.Store, inv invoker.Invoker, debate *workflow.DebateEngine, log *logging.Logger) *Runner {
	return &Runner{store: st, inv: inv, debate: debate, log: log}
}

// Run executes one agent invocation end to end.
func (r *Runner) Run(ctx context.Context, task workflow.Task, fn AgentFunc) error {
	log := r.log.WithRun(task.RunID).WithPhase(string(task.Phase)).WithAgent(task.Agent)

	run, err := r.store.GetRun(ctx, task.RunID)
	if err != nil {
		return err
	}
	if run == nil {
		log.Warn("run not found, dropping invocation")
		return nil
	}
	if run.Status.IsTerminal() {
		log.Info("run no longer active, dropping invocation", "status", run.Status)
		return nil
	}

	claimed, err := r.store.SetStepStatus(ctx, task.RunID, task.Phase, task.Agent,
		[]workflow.StepStatus{workflow.StepPending, workflow.StepRunning}, workflow.StepRunning)
	if err != nil {
		return err
	}
	if !claimed {
		log.Info("step already settled, dropping invocation", "attempt", task.Envelope.Attempt)
		return nil
	}
	if err := r.store.BumpStepAttempt(ctx, task.RunID, task.Phase, task.Agent, task.Envelope.Attempt); err != nil {
		log.Warn("attempt bookkeeping failed", "error", err)
	}

	lease := r.armWatchdog(ctx, task, log)
	workErr := fn(ctx, task)
	if fired := !lease.Stop(); fired {
		// The lease already scheduled a retry or expired the step. The
		// conditional writes below decide which attempt's outcome sticks.
		log.Warn("attempt outlived its watchdog lease", "attempt", task.Envelope.Attempt)
	}

	if errors.Is(workErr, ErrLostRace) {
		log.Info("attempt lost its domain write, dropping")
		return nil
	}
	if workErr != nil {
		return r.failStep(ctx, task, workErr, log)
	}

	hop, err := r.nextHop(ctx, task)
	if err != nil {
		return err
	}

	if hop.settle {
		won, err := r.store.SetStepStatus(ctx, task.RunID, task.Phase, task.Agent,
			[]workflow.StepStatus{workflow.StepPending, workflow.StepRunning}, workflow.StepCompleted)
		if err != nil {
			return err
		}
		if !won {
			log.Info("lost the completion race to a concurrent attempt")
			return nil
		}
		for _, agent := range hop.alsoSettle {
			if _, err := r.store.SetStepStatus(ctx, task.RunID, task.Phase, agent,
				[]workflow.StepStatus{workflow.StepPending, workflow.StepRunning}, workflow.StepCompleted); err != nil {
				return err
			}
		}
	}

	return r.dispatch(ctx, task, hop, log)
}

// hop is the routing decision after a successful agent body: where the run
// goes next and whether this step (and any debate partners) settle completed.
type hop struct {
	last       bool
	next       string
	settle     bool
	alsoSettle []string
}

// nextHop resolves the successor. The research phase routes through the
// debate engine: bull hands to bear, bear loops back to bull until the
// round target is met, then both researcher steps settle and the research
// manager takes over. Everything else follows the phase sequencer.
func (r *Runner) nextHop(ctx context.Context, task workflow.Task) (hop, error) {
	if task.Phase == workflow.PhaseResearch {
		switch task.Agent {
		case workflow.BullResearcher:
			return hop{next: r.debate.NextAfterBull()}, nil
		case workflow.BearResearcher:
			completed, err := r.store.CompleteRounds(ctx, task.RunID)
			if err != nil {
				return hop{}, err
			}
			next := r.debate.NextAfterBear(completed)
			if r.debate.Converged(completed) {
				return hop{next: next, settle: true, alsoSettle: []string{workflow.BullResearcher}}, nil
			}
			return hop{next: next}, nil
		}
	}

	last, err := workflow.IsLastAgent(task.Phase, task.Agent)
	if err != nil {
		return hop{}, err
	}
	if last {
		return hop{last: true, settle: true}, nil
	}
	next, _, err := workflow.NextAgent(task.Phase, task.Agent)
	if err != nil {
		return hop{}, err
	}
	return hop{next: next, settle: true}, nil
}

// dispatch performs the hop: the last agent of a phase reports
// last_in_phase and lets the coordinator run the health check, anyone else
// invokes their successor directly and reports normal. A failed successor
// invocation becomes fallback_invocation_failed so the coordinator can
// invoke the successor itself.
func (r *Runner) dispatch(ctx context.Context, task workflow.Task, h hop, log *logging.Logger) error {
	sig := workflow.Signal{
		RunID:  task.RunID,
		Ticker: task.Ticker,
		UserID: task.UserID,
		Phase:  task.Phase,
		Agent:  task.Agent,
	}

	if h.last {
		sig.CompletionType = workflow.CompletionLastInPhase
		return r.signal(ctx, sig, log)
	}

	nextTask := workflow.Task{
		RunID:    task.RunID,
		Ticker:   task.Ticker,
		UserID:   task.UserID,
		Phase:    task.Phase,
		Agent:    h.next,
		Envelope: workflow.NewRetryEnvelope(invoker.AgentFunction(h.next), task.Envelope.Timeout, task.Envelope.MaxRetries),
	}
	if err := r.inv.Invoke(ctx, invoker.AgentFunction(h.next), nextTask); err != nil {
		log.Warn("successor invocation failed, deferring to coordinator", "next", h.next, "error", err)
		sig.CompletionType = workflow.CompletionFallbackInvoke
		sig.FailedToInvoke = h.next
		return r.signal(ctx, sig, log)
	}

	sig.CompletionType = workflow.CompletionNormal
	return r.signal(ctx, sig, log)
}

// failStep records a classified error against the step and notifies the
// coordinator. The step write is conditional so a duplicate attempt that
// already settled the step keeps its outcome.
func (r *Runner) failStep(ctx context.Context, task workflow.Task, cause error, log *logging.Logger) error {
	errType := workflow.ClassifyError(cause.Error(), "")
	log.Error("agent failed", "error", cause, "error_type", errType)

	won, err := r.store.MarkStepError(ctx, task.RunID, task.Phase, task.Agent, cause.Error(), errType)
	if err != nil {
		return err
	}
	if !won {
		log.Info("step already settled, suppressing error signal")
		return nil
	}

	return r.signal(ctx, workflow.Signal{
		RunID:          task.RunID,
		Ticker:         task.Ticker,
		UserID:         task.UserID,
		Phase:          task.Phase,
		Agent:          task.Agent,
		CompletionType: workflow.CompletionAgentError,
		Error:          cause.Error(),
		ErrorType:      errType,
	}, log)
}

func (r *Runner) signal(ctx context.Context, sig workflow.Signal, log *logging.Logger) error {
	if err := r.inv.Invoke(ctx, invoker.CoordinatorFunction, sig); err != nil {
		log.Error("coordinator signal delivery failed", "completion_type", sig.CompletionType, "error", err)
		return fmt.Errorf("delivering %s signal: %w", sig.CompletionType, err)
	}
	return nil
}
