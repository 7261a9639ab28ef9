package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/tradecrew-ai/tradecrew/internal/invoker"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

// lease is one attempt's watchdog deadline. Stop reports false when the
// deadline already fired.
type lease struct {
	timer *time.Timer
}

func (l *lease) Stop() bool {
	return l.timer.Stop()
}

// armWatchdog starts the deadline supervisor for one attempt. If the
// attempt does not settle its step within the envelope's budget, the
// supervisor re-invokes the same agent with attempt+1, preserving the
// original start time. Once retries are exhausted, the step is expired as a
// timeout error instead. The abandoned attempt may still be executing; its
// late writes are fenced off by the step and run conditional writes.
func (r *Runner) armWatchdog(ctx context.Context, task workflow.Task, log *logging.Logger) *lease {
	bg := context.WithoutCancel(ctx)
	return &lease{timer: time.AfterFunc(task.Envelope.Timeout, func() {
		next := task.Envelope.Next()
		if next.Exhausted() {
			r.expireStep(bg, task, log)
			return
		}

		retry := task
		retry.Envelope = next
		log.Warn("watchdog fired, re-invoking agent",
			"attempt", next.Attempt,
			"max_retries", next.MaxRetries,
			"elapsed", time.Since(next.OriginalStart))
		if err := r.inv.Invoke(bg, invoker.AgentFunction(task.Agent), retry); err != nil {
			log.Error("watchdog re-invocation failed", "error", err)
			r.expireStep(bg, task, log)
		}
	})}
}

// expireStep converts an exhausted watchdog into a timeout agent_error. The
// conditional write keeps it a no-op when a concurrent attempt settled the
// step first.
func (r *Runner) expireStep(ctx context.Context, task workflow.Task, log *logging.Logger) {
	msg := fmt.Sprintf("agent %s did not complete within %s after %d attempts",
		task.Agent, task.Envelope.Timeout, task.Envelope.Attempt)

	won, err := r.store.MarkStepError(ctx, task.RunID, task.Phase, task.Agent, msg, workflow.ErrTimeout)
	if err != nil {
		log.Error("expiring step failed", "error", err)
		return
	}
	if !won {
		log.Info("step settled before watchdog expiry, no action")
		return
	}

	log.Error("watchdog retries exhausted", "attempt", task.Envelope.Attempt)
	_ = r.signal(ctx, workflow.Signal{
		RunID:          task.RunID,
		Ticker:         task.Ticker,
		UserID:         task.UserID,
		Phase:          task.Phase,
		Agent:          task.Agent,
		CompletionType: workflow.CompletionAgentError,
		Error:          msg,
		ErrorType:      workflow.ErrTimeout,
	}, log)
}
