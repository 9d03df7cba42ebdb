// Package middleware implements the ordered, short-circuitable hook pipeline
// wrapping request and response processing.
//
// Hooks run in registration order; there is no implicit priority reordering.
// A hook may finalize the run, which skips every remaining hook of the
// current stage and, for request hooks, the action handler itself. The
// finalized flag lives on the Run, not on the transport: it is pipeline
// state, transitioning running -> finalized exactly once per request.
package middleware

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/schema"
	"github.com/c360/servicekit/transport"
)

// RequestFunc is a request-stage hook. It receives the current transport and
// returns the transport to hand to the next hook; returning nil keeps the
// current one. Calling run.Finalize() short-circuits the rest of the stage
// and the action handler.
type RequestFunc func(ctx context.Context, run *Run, tp *transport.Transport) (*transport.Transport, error)

// ResponseFunc is a response-stage hook. Response hooks additionally see the
// resolved action schema, which is nil when resolution itself failed.
type ResponseFunc func(ctx context.Context, run *Run, tp *transport.Transport, action *schema.ActionSchema) (*transport.Transport, error)

type requestHook struct {
	name string
	fn   RequestFunc
}

type responseHook struct {
	name string
	fn   ResponseFunc
}

// Pipeline holds the ordered request and response hook lists. Register hooks
// at startup; the pipeline itself is read-only while serving.
type Pipeline struct {
	requestHooks  []requestHook
	responseHooks []responseHook
	logger        *slog.Logger
}

// NewPipeline creates an empty pipeline. A nil logger falls back to the
// default slog logger.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger}
}

// OnRequest appends a named request hook.
func (p *Pipeline) OnRequest(name string, fn RequestFunc) {
	p.requestHooks = append(p.requestHooks, requestHook{name: name, fn: fn})
}

// OnResponse appends a named response hook.
func (p *Pipeline) OnResponse(name string, fn ResponseFunc) {
	p.responseHooks = append(p.responseHooks, responseHook{name: name, fn: fn})
}

// RequestHookNames returns the registered request hooks in execution order.
func (p *Pipeline) RequestHookNames() []string {
	names := make([]string, len(p.requestHooks))
	for i, h := range p.requestHooks {
		names[i] = h.name
	}
	return names
}

// ResponseHookNames returns the registered response hooks in execution order.
func (p *Pipeline) ResponseHookNames() []string {
	names := make([]string, len(p.responseHooks))
	for i, h := range p.responseHooks {
		names[i] = h.name
	}
	return names
}

// NewRun creates the per-request pipeline state. One Run covers both stages
// of one request: a finalize in the request stage is still visible to the
// response stage.
func (p *Pipeline) NewRun() *Run {
	return &Run{}
}

// RunRequest executes the request hooks in order. Hooks after a finalize are
// skipped. A hook error aborts the stage and is returned to the caller.
func (p *Pipeline) RunRequest(ctx context.Context, run *Run, tp *transport.Transport) (*transport.Transport, error) {
	for _, hook := range p.requestHooks {
		if run.Finalized() {
			break
		}

		next, err := hook.fn(ctx, run, tp)
		if err != nil {
			p.logger.Error("request hook failed",
				"hook", hook.name, "request_id", tp.Meta().ID, "error", err)
			return tp, errors.Wrap(err, "Pipeline", "RunRequest", "hook "+hook.name)
		}
		if next != nil {
			tp = next
		}
	}
	return tp, nil
}

// RunResponse executes the response hooks in order under the same
// short-circuit rule. The action schema is the one resolved for the request,
// or nil when resolution failed.
func (p *Pipeline) RunResponse(
	ctx context.Context,
	run *Run,
	tp *transport.Transport,
	action *schema.ActionSchema,
) (*transport.Transport, error) {
	// The response stage gets its own short-circuit window: a request-stage
	// finalize routes processing here, it must not suppress response hooks.
	run.enterResponseStage()

	for _, hook := range p.responseHooks {
		if run.ResponseFinalized() {
			break
		}

		next, err := hook.fn(ctx, run, tp, action)
		if err != nil {
			p.logger.Error("response hook failed",
				"hook", hook.name, "request_id", tp.Meta().ID, "error", err)
			return tp, errors.Wrap(err, "Pipeline", "RunResponse", "hook "+hook.name)
		}
		if next != nil {
			tp = next
		}
	}
	return tp, nil
}

// Run is the state of one pipeline execution. It owns the finalized flag.
type Run struct {
	finalized     atomic.Bool
	stageBoundary atomic.Bool // set when the response stage begins
	responseSkips atomic.Bool // finalize called during the response stage
}

// Finalize marks the run finalized. The first call wins; any later call is a
// usage bug and fails with ErrAlreadyFinalized rather than silently
// no-opping.
func (r *Run) Finalize() error {
	if !r.finalized.CompareAndSwap(false, true) {
		return errors.Wrap(errors.ErrAlreadyFinalized, "Run", "Finalize", "repeated finalize")
	}
	if r.stageBoundary.Load() {
		r.responseSkips.Store(true)
	}
	return nil
}

// Finalized reports whether the run has been finalized at any point.
func (r *Run) Finalized() bool {
	return r.finalized.Load()
}

func (r *Run) enterResponseStage() {
	r.stageBoundary.Store(true)
}

// ResponseFinalized reports whether a finalize happened within the response
// stage itself, as opposed to one carried over from the request stage.
func (r *Run) ResponseFinalized() bool {
	return r.responseSkips.Load()
}
