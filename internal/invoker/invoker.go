// Package invoker delivers payloads to named worker functions. Chained
// agent hops and coordinator fallback invocations both go through here.
package invoker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Invoker fires a JSON payload at a worker by logical function name.
// Delivery is fire-and-forget from the caller's perspective; an error means
// the invocation itself could not be handed off (a transport failure), not
// that the worker's logic failed.
type Invoker interface {
	Invoke(ctx context.Context, function string, payload any) error
}

// CoordinatorFunction is the logical name of the coordinator signal handler.
const CoordinatorFunction = "coordinator"

// AgentFunction returns the logical function name for an agent.
func AgentFunction(agent string) string {
	return "agent-" + agent
}

// HTTPInvoker delivers payloads to a worker fleet over HTTP.
type HTTPInvoker struct {
	client *resty.Client
}

// NewHTTPInvoker creates an invoker posting to baseURL/v1/invoke/{function}.
func NewHTTPInvoker(baseURL string, timeout time.Duration) *HTTPInvoker {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	return &HTTPInvoker{client: client}
}

// Invoke posts the payload. Logical worker failures ride back inside a 200
// response and are not surfaced here; only transport problems error.
func (h *HTTPInvoker) Invoke(ctx context.Context, function string, payload any) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/v1/invoke/" + function)
	if err != nil {
		return fmt.Errorf("invoking %s: %w", function, err)
	}
	if resp.IsError() {
		return fmt.Errorf("invoking %s: unexpected status %d", function, resp.StatusCode())
	}
	return nil
}

// Handler consumes one invocation payload.
type Handler func(ctx context.Context, payload any) error

// Dispatcher routes invocations to in-process handlers. It backs the
// single-binary CLI mode and the test harness; each invocation still runs
// as its own detached unit, mirroring the distributed scheduling model.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	wg       sync.WaitGroup
	sync     bool

	errMu   sync.Mutex
	lastErr error
}

// NewDispatcher creates an asynchronous dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// NewSyncDispatcher creates a dispatcher that runs handlers inline, for
// deterministic tests.
func NewSyncDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler), sync: true}
}

// Register binds a handler to a function name.
func (d *Dispatcher) Register(function string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[function] = h
}

// Invoke hands the payload to the registered handler. An unknown function
// is the transport-failure analog and errors immediately.
func (d *Dispatcher) Invoke(ctx context.Context, function string, payload any) error {
	d.mu.RLock()
	h, ok := d.handlers[function]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for %s", function)
	}

	if d.sync {
		return d.run(ctx, h, payload)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Detached from the caller: each hop is a fresh execution.
		_ = d.run(context.WithoutCancel(ctx), h, payload)
	}()
	return nil
}

func (d *Dispatcher) run(ctx context.Context, h Handler, payload any) error {
	err := h(ctx, payload)
	if err != nil {
		d.errMu.Lock()
		d.lastErr = err
		d.errMu.Unlock()
	}
	return err
}

// Wait blocks until all in-flight asynchronous invocations return.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LastErr returns the most recent handler error, for diagnostics.
func (d *Dispatcher) LastErr() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.lastErr
}
