package dispatch

import (
	"context"
	"log/slog"

	"github.com/c360/servicekit/schema"
	"github.com/c360/servicekit/transport"
)

// Param is one parameter as seen by a handler. A parameter either exists
// (supplied by the caller or filled from its schema default) or it does not;
// an absent parameter is never a zero value in disguise.
type Param struct {
	name   string
	value  any
	exists bool
}

// Name returns the parameter name.
func (p Param) Name() string { return p.name }

// Exists reports whether the parameter was supplied or defaulted.
func (p Param) Exists() bool { return p.exists }

// Value returns the raw parameter value.
func (p Param) Value() any { return p.value }

// String returns the parameter as a string, or "" when it is absent or not a
// string.
func (p Param) String() string {
	s, _ := p.value.(string)
	return s
}

// Int returns the parameter as an int64. JSON numbers decode as float64 and
// are truncated.
func (p Param) Int() int64 {
	switch v := p.value.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Float returns the parameter as a float64.
func (p Param) Float() float64 {
	switch v := p.value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns the parameter as a bool.
func (p Param) Bool() bool {
	b, _ := p.value.(bool)
	return b
}

// Action is the facade handlers work against. It exposes the resolved call
// identity, typed parameter access, result writes into the transport, and
// runtime calls to other services.
type Action struct {
	service *schema.ServiceSchema
	schema  *schema.ActionSchema
	params  map[string]any
	tp      *transport.Transport
	calls   *callSet
	logger  *slog.Logger
}

func newAction(
	svc *schema.ServiceSchema,
	action *schema.ActionSchema,
	params map[string]any,
	tp *transport.Transport,
	calls *callSet,
	logger *slog.Logger,
) *Action {
	return &Action{
		service: svc,
		schema:  action,
		params:  params,
		tp:      tp,
		calls:   calls,
		logger:  logger,
	}
}

// ServiceName returns the resolved service name.
func (a *Action) ServiceName() string { return a.service.Name }

// ServiceVersion returns the concrete resolved version, never a pattern.
func (a *Action) ServiceVersion() string { return a.service.Version }

// Name returns the action name.
func (a *Action) Name() string { return a.schema.Name }

// RequestID returns the id of the request being processed.
func (a *Action) RequestID() string { return a.tp.Meta().ID }

// Schema returns the action's schema.
func (a *Action) Schema() *schema.ActionSchema { return a.schema }

// Param returns the named parameter. A parameter the caller did not supply
// falls back to its schema default when one is declared; otherwise it is
// absent.
func (a *Action) Param(name string) Param {
	if v, ok := a.params[name]; ok {
		return Param{name: name, value: v, exists: true}
	}
	if ps, ok := a.schema.Param(name); ok && ps.HasDefault {
		return Param{name: name, value: ps.Default, exists: true}
	}
	return Param{name: name}
}

// Params returns the declared parameters in schema order, each resolved the
// same way Param resolves a single one.
func (a *Action) Params() []Param {
	out := make([]Param, 0, len(a.schema.Params))
	for _, ps := range a.schema.Params {
		out = append(out, a.Param(ps.Name))
	}
	return out
}

func (a *Action) dataKey() transport.Key {
	return transport.Key{
		Service: a.service.Name,
		Version: a.service.Version,
		Action:  a.schema.Name,
	}
}

// SetEntity stores a single entity as the action's result. A missing primary
// key field is logged but tolerated; the schema declares intent, the handler
// owns the data.
func (a *Action) SetEntity(entity map[string]any) {
	if pk := a.schema.PrimaryKey(); pk != "" {
		if _, ok := entity[pk]; !ok {
			a.logger.Warn("entity is missing its primary key field",
				"service", a.service.Name, "action", a.schema.Name, "primary_key", pk)
		}
	}
	a.tp.SetData(a.dataKey(), entity)
}

// SetCollection stores a list of entities as the action's result.
func (a *Action) SetCollection(entities []map[string]any) {
	a.tp.SetData(a.dataKey(), entities)
}

// SetReturn stores a scalar or arbitrary value as the action's result, for
// actions whose schema declares a plain return type instead of an entity.
func (a *Action) SetReturn(value any) {
	a.tp.SetData(a.dataKey(), value)
}

// Error records a structured error against this service version. Recording
// an error does not stop the handler; partial results plus errors are a
// valid outcome.
func (a *Action) Error(message string, code int) {
	a.tp.AddError(
		transport.ErrorKey{Service: a.service.Name, Version: a.service.Version},
		transport.ErrorEntry{Message: message, Code: code},
	)
}

// AddFile attaches a file reference to the request.
func (a *Action) AddFile(f transport.FileRef) {
	a.tp.AddFile(f)
}

// Files returns the files attached to the request so far.
func (a *Action) Files() []transport.FileRef {
	return a.tp.Files()
}

// Userland returns a free-form request attribute set by middleware or an
// earlier handler in the call chain.
func (a *Action) Userland(key string) (any, bool) {
	return a.tp.Userland(key)
}

// SetUserland sets a free-form request attribute.
func (a *Action) SetUserland(key string, value any) {
	a.tp.SetUserland(key, value)
}

// Call issues a runtime call to another service. The call runs concurrently
// with the rest of the handler; its results are merged into the request
// transport after the handler returns, in the order calls were issued. The
// version must be concrete or a pattern the callee side can resolve.
func (a *Action) Call(ctx context.Context, service, version, action string, params map[string]any) error {
	return a.calls.issue(ctx, transport.CallEntry{
		Service: service,
		Version: version,
		Action:  action,
		Caller:  a.service.Name,
	}, params)
}
