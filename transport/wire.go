package transport

import (
	"encoding/json"

	"github.com/c360/servicekit/errors"
)

// wireFormat is the JSON wire representation of a Transport. Data and errors
// travel as nested maps keyed service -> version (-> action) so any JSON
// codec round-trips them losslessly; the struct-keyed maps are rebuilt on
// decode. File payloads are []byte and therefore base64 on the wire.
type wireFormat struct {
	Meta      Meta                                 `json:"meta"`
	CallStack []CallEntry                          `json:"calls,omitempty"`
	Data      map[string]map[string]map[string]any `json:"data,omitempty"`
	Files     []FileRef                            `json:"files,omitempty"`
	Errors    map[string]map[string][]ErrorEntry   `json:"errors,omitempty"`
	Userland  map[string]any                       `json:"userland,omitempty"`
}

// MarshalJSON implements json.Marshaler. Every field of the transport model
// round-trips: meta, call stack, data, ordered files, errors, and userland.
func (t *Transport) MarshalJSON() ([]byte, error) {
	wire := wireFormat{
		Meta:      t.meta,
		CallStack: t.callStack,
		Files:     t.files,
		Userland:  t.userland,
	}

	if len(t.data) > 0 {
		wire.Data = make(map[string]map[string]map[string]any)
		for key, value := range t.data {
			versions, ok := wire.Data[key.Service]
			if !ok {
				versions = make(map[string]map[string]any)
				wire.Data[key.Service] = versions
			}
			actions, ok := versions[key.Version]
			if !ok {
				actions = make(map[string]any)
				versions[key.Version] = actions
			}
			actions[key.Action] = value
		}
	}

	if len(t.errors) > 0 {
		wire.Errors = make(map[string]map[string][]ErrorEntry)
		for key, entries := range t.errors {
			versions, ok := wire.Errors[key.Service]
			if !ok {
				versions = make(map[string][]ErrorEntry)
				wire.Errors[key.Service] = versions
			}
			versions[key.Version] = entries
		}
	}

	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Transport) UnmarshalJSON(data []byte) error {
	var wire wireFormat
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "Transport", "UnmarshalJSON", "decode wire format")
	}

	t.meta = wire.Meta
	t.callStack = wire.CallStack
	t.files = wire.Files

	t.data = make(map[Key]any)
	for service, versions := range wire.Data {
		for svcVersion, actions := range versions {
			for action, value := range actions {
				t.data[Key{Service: service, Version: svcVersion, Action: action}] = value
			}
		}
	}

	t.errors = make(map[ErrorKey][]ErrorEntry)
	for service, versions := range wire.Errors {
		for svcVersion, entries := range versions {
			t.errors[ErrorKey{Service: service, Version: svcVersion}] = entries
		}
	}

	t.userland = wire.Userland
	if t.userland == nil {
		t.userland = make(map[string]any)
	}

	return nil
}
