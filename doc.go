// Package servicekit is the runtime core of a microservice SDK: services
// declare versioned actions through schemas, callers address them with
// semantic version patterns, request state travels in a transport envelope,
// and a middleware pipeline wraps every request and response.
//
// The packages compose bottom-up:
//
//   - version resolves version patterns against concrete versions
//   - schema holds service and action schemas and the resolution registry
//   - transport is the call-state envelope and its merge rules
//   - middleware is the ordered, short-circuitable hook pipeline
//   - dispatch runs one request end to end and owns the handler API
//   - runtime and natsclient put dispatch on the wire over NATS
//   - config, metric, and the pkg utilities support all of the above
//
// See cmd/examplesvc for a complete wired service.
package servicekit
