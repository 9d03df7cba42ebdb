package dispatch

import (
	"context"
	"time"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/transport"
)

type callResult struct {
	tp  *transport.Transport
	err error
}

type pendingCall struct {
	entry transport.CallEntry
	done  chan callResult
}

// callSet tracks the runtime calls issued by one handler invocation. Calls
// run concurrently but their results merge in issuance order, so the final
// transport is deterministic for a given issuance sequence regardless of
// completion timing.
type callSet struct {
	d       *Dispatcher
	parent  *transport.Transport
	pending []*pendingCall
}

func newCallSet(d *Dispatcher, parent *transport.Transport) *callSet {
	return &callSet{d: d, parent: parent}
}

// issue starts one runtime call. The call gets a fork of the parent
// transport with its call entry pushed, and its own timeout derived from the
// target's schema. A done context refuses the call instead of starting work
// that can never complete.
func (s *callSet) issue(ctx context.Context, entry transport.CallEntry, params map[string]any) error {
	if s.d.caller == nil {
		return errors.WrapInvalid(errors.ErrNoConnection, "Action", "Call",
			"no runtime caller configured")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Action", "Call", "context done, call not issued")
	}

	fork := s.parent.Fork()
	fork.PushCall(entry)

	timeout := s.d.callTimeout(entry)
	p := &pendingCall{entry: entry, done: make(chan callResult, 1)}

	go func() {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		tp, err := s.d.caller.Call(callCtx, RuntimeCall{
			Target:    entry,
			Params:    params,
			Transport: fork,
			Timeout:   timeout,
		})
		if s.d.metrics != nil {
			s.d.metrics.RecordRuntimeCallDuration(callTarget(entry), time.Since(start))
		}
		p.done <- callResult{tp: tp, err: err}
	}()

	s.pending = append(s.pending, p)
	return nil
}

// collect waits for every issued call and folds the results into tp in
// issuance order. Failed or timed-out calls become transport errors; they
// never abort the request.
func (s *callSet) collect(tp *transport.Transport) *transport.Transport {
	pending := s.pending
	s.pending = nil

	for _, p := range pending {
		res := <-p.done
		target := callTarget(p.entry)

		if res.err != nil {
			errKey := transport.ErrorKey{Service: p.entry.Service, Version: p.entry.Version}

			if isCallTimeout(res.err) {
				s.d.logger.Warn("runtime call timed out",
					"target", target, "request_id", tp.Meta().ID)
				tp.AddError(errKey, transport.ErrorEntry{
					Message: errors.ErrRuntimeCallTimeout.Error() + ": " + target,
					Code:    CodeRuntimeCallTimeout,
				})
				s.recordCall(target, "timeout")
			} else {
				s.d.logger.Warn("runtime call failed",
					"target", target, "request_id", tp.Meta().ID, "error", res.err)
				tp.AddError(errKey, transport.ErrorEntry{
					Message: errors.ErrRuntimeCallFailure.Error() + ": " + res.err.Error(),
					Code:    CodeRuntimeCallFailed,
				})
				s.recordCall(target, "failure")
			}
			continue
		}

		merged, report := transport.Merge(tp, res.tp)
		for _, c := range report.Conflicts {
			s.d.logger.Warn("merge conflict, sub-call value wins",
				"service", c.Key.Service, "version", c.Key.Version,
				"action", c.Key.Action, "request_id", tp.Meta().ID)
			if s.d.metrics != nil {
				s.d.metrics.RecordMergeConflict()
			}
		}
		tp = merged
		s.recordCall(target, "ok")
	}

	return tp
}

func (s *callSet) recordCall(target, status string) {
	if s.d.metrics != nil {
		s.d.metrics.RecordRuntimeCall(target, status)
	}
}

func isCallTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, errors.ErrRuntimeCallTimeout) ||
		errors.Is(err, errors.ErrConnectionTimeout)
}

func callTarget(entry transport.CallEntry) string {
	return entry.Service + "/" + entry.Version + " " + entry.Action
}
