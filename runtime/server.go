package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/servicekit/dispatch"
	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/metric"
	"github.com/c360/servicekit/natsclient"
	"github.com/c360/servicekit/pkg/worker"
	"github.com/c360/servicekit/schema"
)

type inbound struct {
	data    []byte
	respond func([]byte)
}

// ActionServer serves a service's actions over NATS queue subscriptions.
// One subscription per action, all in the same queue group, so multiple
// instances of a service load-balance naturally. Inbound requests are
// processed by a bounded worker pool.
type ActionServer struct {
	client     *natsclient.Client
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	workers     int
	queueSize   int
	stopTimeout time.Duration

	metricsRegistry metric.Registrar

	pool *worker.Pool[inbound]
}

// ServerOption configures an ActionServer.
type ServerOption func(*ActionServer)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) ServerOption {
	return func(s *ActionServer) { s.workers = n }
}

// WithQueueSize sets the inbound queue capacity.
func WithQueueSize(n int) ServerOption {
	return func(s *ActionServer) { s.queueSize = n }
}

// WithStopTimeout bounds how long Stop waits for in-flight requests.
func WithStopTimeout(d time.Duration) ServerOption {
	return func(s *ActionServer) { s.stopTimeout = d }
}

// WithServerLogger sets the server's logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *ActionServer) { s.logger = l }
}

// WithMetricsRegistry registers the worker pool's metrics with the given
// registrar.
func WithMetricsRegistry(reg metric.Registrar) ServerOption {
	return func(s *ActionServer) { s.metricsRegistry = reg }
}

// NewActionServer creates a server over a connected NATS client and a
// dispatcher holding the service's handlers.
func NewActionServer(client *natsclient.Client, dispatcher *dispatch.Dispatcher, opts ...ServerOption) *ActionServer {
	s := &ActionServer{
		client:      client,
		dispatcher:  dispatcher,
		logger:      slog.Default(),
		workers:     10,
		queueSize:   1000,
		stopTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve starts the worker pool and subscribes to every action of the given
// service schema. The queue group is the service name, so all instances
// registered under the same name share the load.
func (s *ActionServer) Serve(ctx context.Context, svc *schema.ServiceSchema) error {
	if err := s.startPool(ctx); err != nil {
		return err
	}

	queue := subjectEscaper.Replace(svc.Name)
	for _, name := range svc.ActionNames() {
		subject := Subject(svc.Name, svc.Version, name)
		err := s.client.QueueSubscribeRequest(ctx, subject, queue, s.enqueue)
		if err != nil {
			return errors.Wrap(err, "ActionServer", "Serve", "subscribe "+subject)
		}
		s.logger.Info("serving action",
			"service", svc.Name, "version", svc.Version,
			"action", name, "subject", subject)
	}

	return nil
}

// startPool builds and starts the worker pool on first use.
func (s *ActionServer) startPool(ctx context.Context) error {
	if s.pool != nil {
		return nil
	}

	var opts []worker.Option[inbound]
	if s.metricsRegistry != nil {
		opts = append(opts, worker.WithMetricsRegistry[inbound](s.metricsRegistry, "servicekit_server"))
	}

	s.pool = worker.NewPool(s.workers, s.queueSize, s.process, opts...)
	if err := s.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "ActionServer", "startPool", "start worker pool")
	}
	return nil
}

// Stop drains the worker pool, waiting up to the stop timeout.
func (s *ActionServer) Stop() error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Stop(s.stopTimeout); err != nil {
		return errors.Wrap(err, "ActionServer", "Stop", "drain worker pool")
	}
	return nil
}

// Stats returns worker pool statistics.
func (s *ActionServer) Stats() worker.PoolStats {
	if s.pool == nil {
		return worker.PoolStats{}
	}
	return s.pool.Stats()
}

// enqueue hands one inbound message to the pool. A full queue is answered
// immediately so the caller fails fast instead of waiting out its timeout.
func (s *ActionServer) enqueue(_ context.Context, data []byte, respond func([]byte)) {
	err := s.pool.Submit(inbound{data: data, respond: respond})
	if err != nil {
		s.logger.Warn("inbound request rejected", "error", err)
		respond(encodeReply(callReply{Error: "server overloaded: " + err.Error()}))
	}
}

// process decodes one call, dispatches it, and replies with the resulting
// transport.
func (s *ActionServer) process(ctx context.Context, in inbound) error {
	payload, err := decodePayload(in.data)
	if err != nil {
		s.logger.Error("malformed call payload", "error", err)
		in.respond(encodeReply(callReply{Error: err.Error()}))
		return err
	}

	out, err := s.dispatcher.HandleRequest(ctx, dispatch.Request{
		Service:        payload.Target.Service,
		VersionPattern: payload.Target.Version,
		Action:         payload.Target.Action,
		Params:         payload.Params,
	}, payload.Transport)
	if err != nil {
		s.logger.Error("dispatch failed",
			"service", payload.Target.Service, "action", payload.Target.Action, "error", err)
		in.respond(encodeReply(callReply{Error: err.Error()}))
		return err
	}

	in.respond(encodeReply(callReply{Transport: out}))
	return nil
}
