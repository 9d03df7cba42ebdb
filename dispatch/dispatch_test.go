package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/servicekit/metric"
	"github.com/c360/servicekit/middleware"
	"github.com/c360/servicekit/schema"
	"github.com/c360/servicekit/transport"
)

type fakeCaller struct {
	mu    sync.Mutex
	calls []RuntimeCall
	fn    func(ctx context.Context, call RuntimeCall) (*transport.Transport, error)
}

func (f *fakeCaller) Call(ctx context.Context, call RuntimeCall) (*transport.Transport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return f.fn(ctx, call)
}

func newTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	reg := schema.NewRegistry()
	svc := schema.NewServiceSchema("users", "1.0.0",
		&schema.ActionSchema{
			Name: "get",
			Params: []schema.ParamSchema{
				{Name: "id", Type: "string", Required: true},
				{Name: "limit", Type: "integer", Default: float64(10), HasDefault: true},
			},
			Entity: &schema.EntityDefinition{
				PrimaryKey: "id",
				Fields:     []schema.FieldDefinition{{Name: "id", Type: "string"}},
			},
		},
		&schema.ActionSchema{Name: "list"},
	)
	require.NoError(t, reg.Register(svc))
	return reg
}

func TestDispatcher_HappyPath(t *testing.T) {
	reg := newTestRegistry(t)
	d := NewDispatcher(reg, middleware.NewPipeline(nil))

	require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", func(_ context.Context, a *Action) error {
		a.SetEntity(map[string]any{"id": a.Param("id").String()})
		return nil
	}))

	tp := transport.New("test")
	out, err := d.HandleRequest(context.Background(), Request{
		Service:        "users",
		VersionPattern: "1.*.*",
		Action:         "get",
		Params:         map[string]any{"id": "u1"},
	}, tp)
	require.NoError(t, err)
	require.False(t, out.HasErrors())

	v, ok := out.Data(transport.Key{Service: "users", Version: "1.0.0", Action: "get"})
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": "u1"}, v)

	// The local link is recorded on the call stack with the resolved version.
	stack := out.CallStack()
	require.Len(t, stack, 1)
	assert.Equal(t, "1.0.0", stack[0].Version)
}

func TestDispatcher_ResolutionFailureBecomesTransportError(t *testing.T) {
	reg := newTestRegistry(t)
	p := middleware.NewPipeline(nil)

	responseRan := false
	p.OnResponse("observer", func(_ context.Context, _ *middleware.Run, tp *transport.Transport, action *schema.ActionSchema) (*transport.Transport, error) {
		responseRan = true
		assert.Nil(t, action, "response hooks see no schema when resolution failed")
		return tp, nil
	})

	handlerRan := false
	d := NewDispatcher(reg, p)
	require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", func(_ context.Context, _ *Action) error {
		handlerRan = true
		return nil
	}))

	out, err := d.Handle(context.Background(), "users", "9.*", "get", transport.New("test"))
	require.NoError(t, err, "a resolution failure is a request error, not a dispatch error")

	assert.False(t, handlerRan)
	assert.True(t, responseRan)

	errs := out.Errors()
	entries := errs[transport.ErrorKey{Service: "users", Version: "9.*"}]
	require.Len(t, entries, 1)
	assert.Equal(t, CodeResolutionFailed, entries[0].Code)
}

func TestDispatcher_UnknownServiceAlsoFails(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), middleware.NewPipeline(nil))

	out, err := d.Handle(context.Background(), "nope", "1.0.0", "get", transport.New("test"))
	require.NoError(t, err)
	assert.True(t, out.HasErrors())
}

func TestDispatcher_FinalizedRequestSkipsHandler(t *testing.T) {
	reg := newTestRegistry(t)
	p := middleware.NewPipeline(nil)
	p.OnRequest("auth", func(_ context.Context, run *middleware.Run, tp *transport.Transport) (*transport.Transport, error) {
		tp.AddError(transport.ErrorKey{Service: "users", Version: "1.0.0"},
			transport.ErrorEntry{Message: "unauthorized", Code: 401})
		return tp, run.Finalize()
	})

	responseRan := false
	p.OnResponse("observer", func(_ context.Context, _ *middleware.Run, tp *transport.Transport, _ *schema.ActionSchema) (*transport.Transport, error) {
		responseRan = true
		return tp, nil
	})

	handlerRan := false
	d := NewDispatcher(reg, p)
	require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", func(_ context.Context, _ *Action) error {
		handlerRan = true
		return nil
	}))

	out, err := d.Handle(context.Background(), "users", "1.0.0", "get", transport.New("test"))
	require.NoError(t, err)
	assert.False(t, handlerRan)
	assert.True(t, responseRan)
	assert.True(t, out.HasErrors())
}

func TestDispatcher_FinalizeRecordedPerStage(t *testing.T) {
	reg := newTestRegistry(t)
	handler := func(_ context.Context, a *Action) error {
		a.SetReturn("ok")
		return nil
	}

	finalized := func(m *metric.Metrics, stage string) float64 {
		return testutil.ToFloat64(m.MiddlewareSkips.WithLabelValues("users", stage))
	}

	t.Run("request stage", func(t *testing.T) {
		m := metric.NewMetrics()
		p := middleware.NewPipeline(nil)
		p.OnRequest("seal", func(_ context.Context, run *middleware.Run, tp *transport.Transport) (*transport.Transport, error) {
			return tp, run.Finalize()
		})

		d := NewDispatcher(reg, p, WithMetrics(m))
		require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", handler))

		_, err := d.Handle(context.Background(), "users", "1.0.0", "get", transport.New("test"))
		require.NoError(t, err)

		assert.Equal(t, 1.0, finalized(m, "request"))
		assert.Equal(t, 0.0, finalized(m, "response"))
	})

	t.Run("response stage", func(t *testing.T) {
		m := metric.NewMetrics()
		p := middleware.NewPipeline(nil)
		p.OnResponse("seal", func(_ context.Context, run *middleware.Run, tp *transport.Transport, _ *schema.ActionSchema) (*transport.Transport, error) {
			return tp, run.Finalize()
		})

		d := NewDispatcher(reg, p, WithMetrics(m))
		require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", handler))

		_, err := d.Handle(context.Background(), "users", "1.0.0", "get", transport.New("test"))
		require.NoError(t, err)

		assert.Equal(t, 0.0, finalized(m, "request"))
		assert.Equal(t, 1.0, finalized(m, "response"))
	})
}

func TestDispatcher_HandlerErrorRecordedOnTransport(t *testing.T) {
	reg := newTestRegistry(t)
	d := NewDispatcher(reg, middleware.NewPipeline(nil))
	require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", func(_ context.Context, _ *Action) error {
		return assert.AnError
	}))

	out, err := d.Handle(context.Background(), "users", "1.0.0", "get", transport.New("test"))
	require.NoError(t, err)

	entries := out.Errors()[transport.ErrorKey{Service: "users", Version: "1.0.0"}]
	require.Len(t, entries, 1)
	assert.Equal(t, CodeHandlerError, entries[0].Code)
}

func TestDispatcher_MissingHandlerRecordedOnTransport(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), middleware.NewPipeline(nil))

	out, err := d.Handle(context.Background(), "users", "1.0.0", "list", transport.New("test"))
	require.NoError(t, err)

	entries := out.Errors()[transport.ErrorKey{Service: "users", Version: "1.0.0"}]
	require.Len(t, entries, 1)
	assert.Equal(t, CodeHandlerMissing, entries[0].Code)
}

func TestDispatcher_RegisterHandlerRequiresKnownAction(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), middleware.NewPipeline(nil))

	err := d.RegisterHandler("users", "1.0.0", "missing", func(_ context.Context, _ *Action) error {
		return nil
	})
	assert.Error(t, err)

	err = d.RegisterHandler("users", "1.0.0", "get", nil)
	assert.Error(t, err)
}

func TestDispatcher_SubCallsMergeInIssuanceOrder(t *testing.T) {
	reg := newTestRegistry(t)

	sharedKey := transport.Key{Service: "shared", Version: "1.0", Action: "compute"}
	firstDone := make(chan struct{})

	caller := &fakeCaller{}
	caller.fn = func(_ context.Context, call RuntimeCall) (*transport.Transport, error) {
		tp := call.Transport
		switch call.Target.Service {
		case "profiles":
			// First issued, last to complete.
			<-firstDone
			tp.SetData(sharedKey, "from-profiles")
		case "billing":
			tp.SetData(sharedKey, "from-billing")
			defer close(firstDone)
		}
		return tp, nil
	}

	d := NewDispatcher(reg, middleware.NewPipeline(nil), WithCaller(caller))
	require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", func(ctx context.Context, a *Action) error {
		require.NoError(t, a.Call(ctx, "profiles", "1.0", "fetch", nil))
		require.NoError(t, a.Call(ctx, "billing", "1.0", "charge", nil))
		return nil
	}))

	out, err := d.Handle(context.Background(), "users", "1.0.0", "get", transport.New("test"))
	require.NoError(t, err)
	require.False(t, out.HasErrors())

	// billing was issued second, so its write wins regardless of which call
	// completed first.
	v, ok := out.Data(sharedKey)
	require.True(t, ok)
	assert.Equal(t, "from-billing", v)

	// Each sub-call ran on a fork carrying its own call entry; the merged
	// stack is local link plus both sub-links in issuance order.
	stack := out.CallStack()
	require.Len(t, stack, 3)
	assert.Equal(t, "users", stack[0].Service)
	assert.Equal(t, "profiles", stack[1].Service)
	assert.Equal(t, "users", stack[1].Caller)
	assert.Equal(t, "billing", stack[2].Service)
}

func TestDispatcher_SubCallTimeoutBecomesTransportError(t *testing.T) {
	caller := &fakeCaller{}
	caller.fn = func(ctx context.Context, _ RuntimeCall) (*transport.Transport, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	d := NewDispatcher(newTestRegistry(t), middleware.NewPipeline(nil),
		WithCaller(caller), WithDefaultTimeout(10*time.Millisecond))
	require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", func(ctx context.Context, a *Action) error {
		return a.Call(ctx, "slow", "1.0", "work", nil)
	}))

	out, err := d.Handle(context.Background(), "users", "1.0.0", "get", transport.New("test"))
	require.NoError(t, err)

	entries := out.Errors()[transport.ErrorKey{Service: "slow", Version: "1.0"}]
	require.Len(t, entries, 1)
	assert.Equal(t, CodeRuntimeCallTimeout, entries[0].Code)
}

func TestDispatcher_SubCallFailureBecomesTransportError(t *testing.T) {
	caller := &fakeCaller{}
	caller.fn = func(_ context.Context, _ RuntimeCall) (*transport.Transport, error) {
		return nil, assert.AnError
	}

	d := NewDispatcher(newTestRegistry(t), middleware.NewPipeline(nil), WithCaller(caller))
	require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", func(ctx context.Context, a *Action) error {
		a.SetReturn("partial")
		return a.Call(ctx, "flaky", "2.0", "work", nil)
	}))

	out, err := d.Handle(context.Background(), "users", "1.0.0", "get", transport.New("test"))
	require.NoError(t, err)

	// The failed call is an error entry; the handler's own result survives.
	entries := out.Errors()[transport.ErrorKey{Service: "flaky", Version: "2.0"}]
	require.Len(t, entries, 1)
	assert.Equal(t, CodeRuntimeCallFailed, entries[0].Code)

	v, ok := out.Data(transport.Key{Service: "users", Version: "1.0.0", Action: "get"})
	require.True(t, ok)
	assert.Equal(t, "partial", v)
}

func TestDispatcher_CancelledContextRefusesNewCalls(t *testing.T) {
	caller := &fakeCaller{}
	caller.fn = func(_ context.Context, call RuntimeCall) (*transport.Transport, error) {
		return call.Transport, nil
	}

	d := NewDispatcher(newTestRegistry(t), middleware.NewPipeline(nil), WithCaller(caller))

	var callErr error
	require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", func(ctx context.Context, a *Action) error {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		callErr = a.Call(cancelled, "profiles", "1.0", "fetch", nil)
		return nil
	}))

	_, err := d.Handle(context.Background(), "users", "1.0.0", "get", transport.New("test"))
	require.NoError(t, err)
	assert.Error(t, callErr)

	caller.mu.Lock()
	defer caller.mu.Unlock()
	assert.Empty(t, caller.calls, "no call may be issued on a done context")
}

func TestDispatcher_CallWithoutCallerFails(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), middleware.NewPipeline(nil))

	var callErr error
	require.NoError(t, d.RegisterHandler("users", "1.0.0", "get", func(ctx context.Context, a *Action) error {
		callErr = a.Call(ctx, "profiles", "1.0", "fetch", nil)
		return nil
	}))

	_, err := d.Handle(context.Background(), "users", "1.0.0", "get", transport.New("test"))
	require.NoError(t, err)
	assert.Error(t, callErr)
}
