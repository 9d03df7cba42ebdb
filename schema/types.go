// Package schema holds parsed service and action schemas and the registry
// that maps (service, version, action) to executable metadata. Schemas are
// validated eagerly at registration and are immutable afterwards.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/servicekit/errors"
)

// DefaultTimeout is used for actions whose definition does not override it.
const DefaultTimeout = 30 * time.Second

// ParamSchema describes one action parameter. Parameters are ordered: the
// order they appear in the definition is the order handlers see them.
type ParamSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`

	// Default is only meaningful when HasDefault is true. A parameter with
	// no default is absent, not zero-valued.
	Default    any  `json:"default,omitempty"`
	HasDefault bool `json:"has_default,omitempty"`
}

// FieldDefinition describes one field of a returned entity.
type FieldDefinition struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// EntityDefinition describes the object an action returns. The primary key
// is declared here and only here; actions never configure it independently.
type EntityDefinition struct {
	PrimaryKey string            `json:"primary_key,omitempty"`
	Fields     []FieldDefinition `json:"fields,omitempty"`
}

// ActionSchema holds the executable metadata for a single action.
type ActionSchema struct {
	Name       string            `json:"name"`
	Params     []ParamSchema     `json:"params,omitempty"`
	ReturnType string            `json:"return_type,omitempty"`
	Entity     *EntityDefinition `json:"entity,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	TimeoutMs  int64             `json:"timeout_ms,omitempty"`
}

// Timeout returns the action's timeout, falling back to DefaultTimeout.
func (a *ActionSchema) Timeout() time.Duration {
	if a.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// PrimaryKey returns the primary key field declared by the entity
// definition, or the empty string when the action returns no entity.
func (a *ActionSchema) PrimaryKey() string {
	if a.Entity == nil {
		return ""
	}
	return a.Entity.PrimaryKey
}

// HasTag reports whether the action carries the given tag.
func (a *ActionSchema) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Param returns the named parameter schema, if declared.
func (a *ActionSchema) Param(name string) (ParamSchema, bool) {
	for _, p := range a.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSchema{}, false
}

// Validate checks the action schema for structural problems. It is called
// at registration time so malformed definitions fail fast.
func (a *ActionSchema) Validate() error {
	if a.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidDefinition, "ActionSchema", "Validate",
			"action name cannot be empty")
	}

	seen := make(map[string]bool, len(a.Params))
	for _, p := range a.Params {
		if p.Name == "" {
			return errors.WrapInvalid(errors.ErrInvalidDefinition, "ActionSchema", "Validate",
				fmt.Sprintf("action %q has a parameter with no name", a.Name))
		}
		if seen[p.Name] {
			return errors.WrapInvalid(errors.ErrInvalidDefinition, "ActionSchema", "Validate",
				fmt.Sprintf("action %q declares parameter %q twice", a.Name, p.Name))
		}
		seen[p.Name] = true
	}

	if a.Entity != nil && a.Entity.PrimaryKey != "" {
		found := false
		for _, f := range a.Entity.Fields {
			if f.Name == a.Entity.PrimaryKey {
				found = true
				break
			}
		}
		if len(a.Entity.Fields) > 0 && !found {
			return errors.WrapInvalid(errors.ErrInvalidDefinition, "ActionSchema", "Validate",
				fmt.Sprintf("action %q entity primary key %q is not a declared field",
					a.Name, a.Entity.PrimaryKey))
		}
	}

	return nil
}

// ServiceSchema is one registered version of a service. The name is an
// opaque hierarchical identifier: it may contain "/" and is never split or
// normalized. Immutable once registered.
type ServiceSchema struct {
	Name    string                   `json:"name"`
	Version string                   `json:"version"`
	Actions map[string]*ActionSchema `json:"actions"`
}

// NewServiceSchema builds a ServiceSchema from a list of actions, keyed by
// action name.
func NewServiceSchema(name, svcVersion string, actions ...*ActionSchema) *ServiceSchema {
	m := make(map[string]*ActionSchema, len(actions))
	for _, a := range actions {
		m[a.Name] = a
	}
	return &ServiceSchema{Name: name, Version: svcVersion, Actions: m}
}

// Action returns the named action schema, if the service declares it.
func (s *ServiceSchema) Action(name string) (*ActionSchema, bool) {
	a, ok := s.Actions[name]
	return a, ok
}

// ActionNames returns the declared action names in no particular order.
func (s *ServiceSchema) ActionNames() []string {
	names := make([]string, 0, len(s.Actions))
	for name := range s.Actions {
		names = append(names, name)
	}
	return names
}

// Validate checks the service schema and all of its actions.
func (s *ServiceSchema) Validate() error {
	if s.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidDefinition, "ServiceSchema", "Validate",
			"service name cannot be empty")
	}
	if s.Version == "" {
		return errors.WrapInvalid(errors.ErrInvalidDefinition, "ServiceSchema", "Validate",
			fmt.Sprintf("service %q has no version", s.Name))
	}
	if strings.Contains(s.Version, "*") {
		return errors.WrapInvalid(errors.ErrInvalidDefinition, "ServiceSchema", "Validate",
			fmt.Sprintf("service %q version %q must be concrete, not a pattern", s.Name, s.Version))
	}

	for name, action := range s.Actions {
		if action == nil {
			return errors.WrapInvalid(errors.ErrInvalidDefinition, "ServiceSchema", "Validate",
				fmt.Sprintf("service %q action %q is nil", s.Name, name))
		}
		if name != action.Name {
			return errors.WrapInvalid(errors.ErrInvalidDefinition, "ServiceSchema", "Validate",
				fmt.Sprintf("service %q action map key %q does not match action name %q",
					s.Name, name, action.Name))
		}
		if err := action.Validate(); err != nil {
			return err
		}
	}

	return nil
}
