package runtime

import (
	"context"
	"log/slog"

	"github.com/c360/servicekit/dispatch"
	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/natsclient"
	"github.com/c360/servicekit/pkg/retry"
	"github.com/c360/servicekit/transport"
)

// NATSCaller issues runtime calls over NATS request/reply. Transient
// transport failures are retried with backoff; timeouts are not, the
// per-call deadline already bounds the attempt.
type NATSCaller struct {
	client *natsclient.Client
	retry  retry.Config
	logger *slog.Logger
}

// CallerOption configures a NATSCaller.
type CallerOption func(*NATSCaller)

// WithRetryConfig overrides the retry policy for transient failures.
func WithRetryConfig(cfg retry.Config) CallerOption {
	return func(c *NATSCaller) { c.retry = cfg }
}

// WithCallerLogger sets the caller's logger.
func WithCallerLogger(l *slog.Logger) CallerOption {
	return func(c *NATSCaller) { c.logger = l }
}

// NewCaller creates a Caller backed by a NATS client.
func NewCaller(client *natsclient.Client, opts ...CallerOption) *NATSCaller {
	c := &NATSCaller{
		client: client,
		retry:  retry.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call implements dispatch.Caller.
func (c *NATSCaller) Call(ctx context.Context, call dispatch.RuntimeCall) (*transport.Transport, error) {
	payload, err := encodePayload(callPayload{
		Target:    call.Target,
		Params:    call.Params,
		Transport: call.Transport,
	})
	if err != nil {
		return nil, err
	}

	subject := Subject(call.Target.Service, call.Target.Version, call.Target.Action)

	replyData, err := retry.DoWithResult(ctx, c.retry, func() ([]byte, error) {
		data, reqErr := c.client.Request(ctx, subject, payload)
		if reqErr == nil {
			return data, nil
		}

		// Retrying after the deadline passed cannot succeed, and a refused
		// circuit stays refused for the whole backoff round.
		if errors.Is(reqErr, errors.ErrRuntimeCallTimeout) ||
			errors.Is(reqErr, context.DeadlineExceeded) ||
			errors.Is(reqErr, context.Canceled) ||
			errors.Is(reqErr, natsclient.ErrCircuitOpen) {
			return nil, retry.NonRetryable(reqErr)
		}

		c.logger.Debug("runtime call attempt failed, retrying",
			"subject", subject, "error", reqErr)
		return nil, reqErr
	})
	if err != nil {
		return nil, err
	}

	reply, err := decodeReply(replyData)
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.WrapTransient(errors.ErrRuntimeCallFailure, "NATSCaller", "Call",
			"callee rejected call on "+subject+": "+reply.Error)
	}
	if reply.Transport == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "NATSCaller", "Call",
			"reply carries neither transport nor error")
	}

	return reply.Transport, nil
}
