// Package transport implements the call-state envelope carried through a
// request's lifecycle, including any chained runtime calls it triggers.
//
// A Transport accumulates action data, file references, errors, and free-form
// userland attributes as a request moves through middleware, the action
// handler, and any runtime calls the handler issues. Data and errors are
// keyed by the explicit (service, version, action) triple that produced them,
// never by concatenated strings, so a service literally named "svc/1.0"
// cannot collide with service "svc" version "1.0".
package transport

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/servicekit/pkg/timestamp"
)

// FrameworkVersion is stamped into the meta section of every new transport.
const FrameworkVersion = "1.0.0"

// Meta carries request identity. It is set when the transport is created and
// survives every merge unchanged.
type Meta struct {
	ID       string `json:"id"`       // Request id, one per inbound request
	Origin   string `json:"origin"`   // Identity of the component that originated the request
	Datetime int64  `json:"datetime"` // Creation time, Unix milliseconds UTC
	Version  string `json:"version"`  // Framework protocol version
}

// Key addresses one action's produced data within a transport.
type Key struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Action  string `json:"action"`
}

// ErrorKey addresses the error list for one service version.
type ErrorKey struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// CallEntry records one link in the chain of calls that produced a
// transport. The stack is diagnostic: it is appended to, never enforced as a
// depth limit.
type CallEntry struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Action  string `json:"action"`
	Caller  string `json:"caller,omitempty"` // Service that issued this call, empty for the inbound request
}

// FileRef describes one file parameter. Payload is an opaque byte blob;
// binary content never travels as text. File order is meaningful and is
// preserved through merges.
type FileRef struct {
	Name    string `json:"name"`
	Token   string `json:"token,omitempty"` // Path or remote token, depending on the file server
	Mime    string `json:"mime,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// ErrorEntry is one structured error descriptor recorded for a service
// version. Entries are additive: merging never drops or replaces them.
type ErrorEntry struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// Transport is the mutable call-state envelope. One transport belongs to
// exactly one in-flight request; it is never shared across requests.
type Transport struct {
	meta      Meta
	callStack []CallEntry
	data      map[Key]any
	files     []FileRef
	errors    map[ErrorKey][]ErrorEntry
	userland  map[string]any
}

// New creates a transport for a fresh inbound request with a generated
// request id.
func New(origin string) *Transport {
	return NewWithMeta(Meta{
		ID:       uuid.New().String(),
		Origin:   origin,
		Datetime: timestamp.ToUnixMs(time.Now()),
		Version:  FrameworkVersion,
	})
}

// NewWithMeta creates a transport with explicit meta, used when decoding a
// transport off the wire or deriving one for a sub-call.
func NewWithMeta(meta Meta) *Transport {
	return &Transport{
		meta:     meta,
		data:     make(map[Key]any),
		errors:   make(map[ErrorKey][]ErrorEntry),
		userland: make(map[string]any),
	}
}

// Meta returns the transport's request identity.
func (t *Transport) Meta() Meta {
	return t.meta
}

// PushCall appends one entry to the call stack.
func (t *Transport) PushCall(entry CallEntry) {
	t.callStack = append(t.callStack, entry)
}

// CallStack returns a copy of the chain of calls recorded so far.
func (t *Transport) CallStack() []CallEntry {
	out := make([]CallEntry, len(t.callStack))
	copy(out, t.callStack)
	return out
}

// SetData stores the value produced by one action. Writing the same triple
// twice overwrites; version-scoped triples for other services or versions are
// untouched.
func (t *Transport) SetData(key Key, value any) {
	t.data[key] = value
}

// Data returns the value produced by one action, if present.
func (t *Transport) Data(key Key) (any, bool) {
	v, ok := t.data[key]
	return v, ok
}

// DataKeys returns every (service, version, action) triple holding data.
func (t *Transport) DataKeys() []Key {
	keys := make([]Key, 0, len(t.data))
	for k := range t.data {
		keys = append(keys, k)
	}
	return keys
}

// AddFile appends one file reference, preserving insertion order.
func (t *Transport) AddFile(f FileRef) {
	t.files = append(t.files, f)
}

// Files returns a copy of the ordered file list.
func (t *Transport) Files() []FileRef {
	out := make([]FileRef, len(t.files))
	copy(out, t.files)
	return out
}

// AddError appends one error descriptor for a service version. Errors are
// additive per key; nothing is ever overwritten.
func (t *Transport) AddError(key ErrorKey, entry ErrorEntry) {
	t.errors[key] = append(t.errors[key], entry)
}

// Errors returns a copy of the error section.
func (t *Transport) Errors() map[ErrorKey][]ErrorEntry {
	out := make(map[ErrorKey][]ErrorEntry, len(t.errors))
	for k, entries := range t.errors {
		list := make([]ErrorEntry, len(entries))
		copy(list, entries)
		out[k] = list
	}
	return out
}

// HasErrors reports whether any error has been recorded.
func (t *Transport) HasErrors() bool {
	return len(t.errors) > 0
}

// SetUserland stores a free-form request attribute. Keys are opaque strings
// owned by middleware and application code.
func (t *Transport) SetUserland(key string, value any) {
	t.userland[key] = value
}

// Userland returns a free-form request attribute, if set.
func (t *Transport) Userland(key string) (any, bool) {
	v, ok := t.userland[key]
	return v, ok
}

// UserlandKeys returns the keys of every userland attribute.
func (t *Transport) UserlandKeys() []string {
	keys := make([]string, 0, len(t.userland))
	for k := range t.userland {
		keys = append(keys, k)
	}
	return keys
}

// Fork derives the transport handed to a runtime sub-call: same meta, empty
// data, files, errors, userland, and call stack. The caller records the
// sub-call on the fork's stack at issuance; merging appends the fork's stack
// to the parent's, so the fork must not start with a copy of the parent's
// entries or they would duplicate on merge. The sub-call owns the fork until
// it is merged back into the parent.
func (t *Transport) Fork() *Transport {
	return NewWithMeta(t.meta)
}
