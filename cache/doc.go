// Package cache provides the content-addressed output cache of the task
// graph: outputs keyed by task type plus a canonicalized input fingerprint.
//
// The OutputCache interface is a pure map. Single-flight semantics — at most
// one concurrent producer per key — are layered on by SingleFlight, which
// the runner applies to whatever backend it is given.
//
// Backends live in subpackages:
//
//   - memory:   process-local map, the default for tests and single runs
//   - file:     a directory of JSON files, durable across processes
//   - redis:    go-redis backed, with TTL and key-prefix support
//   - sqlite:   a local SQLite table
//   - postgres: a pgx-backed table with JSONB outputs
package cache
