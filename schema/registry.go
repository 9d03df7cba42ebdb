package schema

import (
	"fmt"
	"sync"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/version"
)

// Registry maps (service, version) to service schemas and resolves version
// patterns to concrete registered versions. It is populated at startup and
// read-only afterwards; the mutex only guards the registration phase.
//
// Registries are plain constructed values. Tests can build as many
// independent registries as they need; there is no process-wide instance.
type Registry struct {
	mu       sync.RWMutex
	services map[string]map[string]*ServiceSchema // name -> version -> schema
}

// NewRegistry creates an empty schema registry
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]map[string]*ServiceSchema),
	}
}

// Register adds a service schema. The schema is validated first; a
// (name, version) pair can only be registered once. Service names are opaque
// strings: "billing/invoices" is a single name, not a path.
func (r *Registry) Register(s *ServiceSchema) error {
	if s == nil {
		return errors.WrapInvalid(errors.ErrInvalidDefinition, "Registry", "Register",
			"schema cannot be nil")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.services[s.Name]
	if !ok {
		versions = make(map[string]*ServiceSchema)
		r.services[s.Name] = versions
	}

	if _, exists := versions[s.Version]; exists {
		return errors.WrapInvalid(errors.ErrDuplicateSchema, "Registry", "Register",
			fmt.Sprintf("service %q version %q", s.Name, s.Version))
	}

	versions[s.Version] = s
	return nil
}

// Resolve finds the registered version of a service that best satisfies a
// version pattern. Returns ErrServiceNotFound when no version of the service
// is registered at all, ErrNoMatchingVersion when the service exists but no
// version matches the pattern.
func (r *Registry) Resolve(name, versionPattern string) (*ServiceSchema, error) {
	r.mu.RLock()
	versions, ok := r.services[name]
	r.mu.RUnlock()

	if !ok || len(versions) == 0 {
		return nil, errors.Wrap(errors.ErrServiceNotFound, "Registry", "Resolve",
			fmt.Sprintf("service %q", name))
	}

	candidates := make([]string, 0, len(versions))
	for v := range versions {
		candidates = append(candidates, v)
	}

	best, err := version.SelectBest(versionPattern, candidates)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Resolve",
			fmt.Sprintf("service %q pattern %q", name, versionPattern))
	}

	return versions[best], nil
}

// ResolveAction resolves a service by version pattern, then looks up an
// action within it. Returns ErrActionNotFound when the resolved service
// version does not declare the action.
func (r *Registry) ResolveAction(name, versionPattern, actionName string) (*ServiceSchema, *ActionSchema, error) {
	svc, err := r.Resolve(name, versionPattern)
	if err != nil {
		return nil, nil, err
	}

	action, ok := svc.Action(actionName)
	if !ok {
		return nil, nil, errors.Wrap(errors.ErrActionNotFound, "Registry", "ResolveAction",
			fmt.Sprintf("service %q version %q action %q", svc.Name, svc.Version, actionName))
	}

	return svc, action, nil
}

// ServiceNames returns all registered service names in no particular order.
func (r *Registry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// Versions returns all registered versions of a service.
func (r *Registry) Versions(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.services[name]))
	for v := range r.services[name] {
		versions = append(versions, v)
	}
	return versions
}
