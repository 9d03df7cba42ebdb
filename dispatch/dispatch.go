// Package dispatch runs one request end to end: schema resolution, the
// middleware pipeline, the action handler, and the merge of any runtime
// sub-calls the handler issued.
//
// A resolution failure is an error response for the request, not a process
// failure: it is recorded into the transport's error section and processing
// proceeds directly to the response hooks. Runtime sub-calls behave the same
// way, a timed-out or failed call becomes a transport error and the request
// completes with partial results.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/metric"
	"github.com/c360/servicekit/middleware"
	"github.com/c360/servicekit/schema"
	"github.com/c360/servicekit/transport"
)

// Transport error codes recorded by the dispatcher.
const (
	CodeResolutionFailed   = 404
	CodeHandlerError       = 500
	CodeHandlerMissing     = 501
	CodeRuntimeCallFailed  = 502
	CodeRuntimeCallTimeout = 504
)

// Handler is the application code behind one action.
type Handler func(ctx context.Context, action *Action) error

// RuntimeCall describes one sub-call issued by an action handler. The
// transport is a fork of the request's transport with the call entry already
// pushed; the callee merges its results into it and sends it back.
type RuntimeCall struct {
	Target    transport.CallEntry
	Params    map[string]any
	Transport *transport.Transport
	Timeout   time.Duration
}

// Caller delivers runtime calls to other services. Implementations block
// until the callee replies or the context expires.
type Caller interface {
	Call(ctx context.Context, call RuntimeCall) (*transport.Transport, error)
}

// Request identifies the action a caller wants executed, plus its parameters.
type Request struct {
	Service        string
	VersionPattern string
	Action         string
	Params         map[string]any
}

type handlerKey struct {
	service string
	version string
	action  string
}

// Dispatcher wires schema resolution, the middleware pipeline, registered
// handlers, and the runtime caller into the per-request processing loop.
type Dispatcher struct {
	registry *schema.Registry
	pipeline *middleware.Pipeline
	caller   Caller
	logger   *slog.Logger
	metrics  *metric.Metrics

	defaultTimeout time.Duration

	mu       sync.RWMutex
	handlers map[handlerKey]Handler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCaller sets the runtime call client. Without one, handlers cannot
// issue sub-calls.
func WithCaller(c Caller) Option {
	return func(d *Dispatcher) { d.caller = c }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics enables metric recording.
func WithMetrics(m *metric.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDefaultTimeout sets the timeout applied to runtime calls whose target
// action declares none.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.defaultTimeout = timeout }
}

// NewDispatcher creates a dispatcher over a schema registry and a middleware
// pipeline. Both are required.
func NewDispatcher(registry *schema.Registry, pipeline *middleware.Pipeline, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		pipeline:       pipeline,
		logger:         slog.Default(),
		defaultTimeout: schema.DefaultTimeout,
		handlers:       make(map[handlerKey]Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterHandler binds application code to one concrete
// (service, version, action). The triple must already be registered in the
// schema registry; handlers for unknown actions are a wiring bug.
func (d *Dispatcher) RegisterHandler(service, version, action string, h Handler) error {
	if h == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Dispatcher", "RegisterHandler",
			fmt.Sprintf("nil handler for %s/%s %s", service, version, action))
	}

	svc, err := d.registry.Resolve(service, version)
	if err != nil {
		return errors.Wrap(err, "Dispatcher", "RegisterHandler",
			fmt.Sprintf("service %q version %q", service, version))
	}
	if _, ok := svc.Action(action); !ok {
		return errors.Wrap(errors.ErrActionNotFound, "Dispatcher", "RegisterHandler",
			fmt.Sprintf("service %q version %q action %q", service, version, action))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[handlerKey{service: svc.Name, version: svc.Version, action: action}] = h
	return nil
}

func (d *Dispatcher) handler(service, version, action string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[handlerKey{service: service, version: version, action: action}]
	return h, ok
}

// Handle processes a request with no caller-supplied parameters.
func (d *Dispatcher) Handle(ctx context.Context, service, versionPattern, action string, tp *transport.Transport) (*transport.Transport, error) {
	return d.HandleRequest(ctx, Request{
		Service:        service,
		VersionPattern: versionPattern,
		Action:         action,
	}, tp)
}

// HandleRequest runs the full request lifecycle and returns the final
// transport. The returned error is reserved for infrastructure failures
// (a broken hook, a cancelled context); request-level failures are recorded
// inside the transport instead.
func (d *Dispatcher) HandleRequest(ctx context.Context, req Request, tp *transport.Transport) (*transport.Transport, error) {
	start := time.Now()

	svc, action, err := d.registry.ResolveAction(req.Service, req.VersionPattern, req.Action)
	if err != nil {
		return d.failResolution(ctx, req, tp, err, start)
	}

	tp.PushCall(transport.CallEntry{
		Service: svc.Name,
		Version: svc.Version,
		Action:  action.Name,
	})

	run := d.pipeline.NewRun()

	tp, err = d.pipeline.RunRequest(ctx, run, tp)
	if err != nil {
		d.recordRequest(svc.Name, action.Name, "error", start)
		return tp, err
	}

	if run.Finalized() {
		if d.metrics != nil {
			d.metrics.RecordFinalized(svc.Name, "request")
		}
		d.logger.Debug("request finalized by middleware",
			"service", svc.Name, "action", action.Name, "request_id", tp.Meta().ID)
	} else {
		tp = d.runHandler(ctx, req, svc, action, tp)
	}

	tp, err = d.pipeline.RunResponse(ctx, run, tp, action)
	if err != nil {
		d.recordRequest(svc.Name, action.Name, "error", start)
		return tp, err
	}
	if run.ResponseFinalized() && d.metrics != nil {
		d.metrics.RecordFinalized(svc.Name, "response")
	}

	status := "ok"
	if tp.HasErrors() {
		status = "error"
	}
	d.recordRequest(svc.Name, action.Name, status, start)
	return tp, nil
}

// runHandler invokes the registered handler and then settles every runtime
// call it issued, merging completed sub-call transports in issuance order.
func (d *Dispatcher) runHandler(
	ctx context.Context,
	req Request,
	svc *schema.ServiceSchema,
	action *schema.ActionSchema,
	tp *transport.Transport,
) *transport.Transport {
	h, ok := d.handler(svc.Name, svc.Version, action.Name)
	if !ok {
		d.logger.Error("no handler registered",
			"service", svc.Name, "version", svc.Version, "action", action.Name)
		tp.AddError(
			transport.ErrorKey{Service: svc.Name, Version: svc.Version},
			transport.ErrorEntry{
				Message: fmt.Sprintf("no handler registered for action %q", action.Name),
				Code:    CodeHandlerMissing,
			},
		)
		return tp
	}

	calls := newCallSet(d, tp)
	act := newAction(svc, action, req.Params, tp, calls, d.logger)

	if err := h(ctx, act); err != nil {
		d.logger.Error("action handler failed",
			"service", svc.Name, "action", action.Name,
			"request_id", tp.Meta().ID, "error", err)
		tp.AddError(
			transport.ErrorKey{Service: svc.Name, Version: svc.Version},
			transport.ErrorEntry{Message: err.Error(), Code: CodeHandlerError},
		)
	}

	return calls.collect(tp)
}

// failResolution records a resolution failure on the transport and runs the
// response hooks with a nil action schema. The handler never runs.
func (d *Dispatcher) failResolution(
	ctx context.Context,
	req Request,
	tp *transport.Transport,
	resErr error,
	start time.Time,
) (*transport.Transport, error) {
	kind := resolutionKind(resErr)
	d.logger.Warn("schema resolution failed",
		"service", req.Service, "pattern", req.VersionPattern,
		"action", req.Action, "kind", kind, "error", resErr)

	if d.metrics != nil {
		d.metrics.RecordResolutionError(req.Service, kind)
	}

	tp.AddError(
		transport.ErrorKey{Service: req.Service, Version: req.VersionPattern},
		transport.ErrorEntry{Message: resErr.Error(), Code: CodeResolutionFailed},
	)

	run := d.pipeline.NewRun()
	tp, err := d.pipeline.RunResponse(ctx, run, tp, nil)
	if run.ResponseFinalized() && d.metrics != nil {
		d.metrics.RecordFinalized(req.Service, "response")
	}
	d.recordRequest(req.Service, req.Action, "resolution_error", start)
	return tp, err
}

func (d *Dispatcher) recordRequest(service, action, status string, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordRequest(service, action, status)
	d.metrics.RecordRequestDuration(service, action, time.Since(start))
}

// callTimeout returns the timeout for one runtime call: the target action's
// declared timeout when the target resolves locally, the dispatcher default
// otherwise.
func (d *Dispatcher) callTimeout(entry transport.CallEntry) time.Duration {
	_, action, err := d.registry.ResolveAction(entry.Service, entry.Version, entry.Action)
	if err != nil || action.TimeoutMs <= 0 {
		return d.defaultTimeout
	}
	return action.Timeout()
}

func resolutionKind(err error) string {
	switch {
	case errors.Is(err, errors.ErrServiceNotFound):
		return "service_not_found"
	case errors.Is(err, errors.ErrNoMatchingVersion):
		return "no_matching_version"
	case errors.Is(err, errors.ErrActionNotFound):
		return "action_not_found"
	default:
		return "unknown"
	}
}
