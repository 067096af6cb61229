// Package taskgraphgo is a workflow engine core: a directed acyclic graph of
// typed computation tasks connected by typed dataflows, executed by a
// scheduler with batch, streaming and reactive disciplines, cancellation,
// and a content-addressed output cache.
//
// The graph package holds the execution core — tasks, dataflows, the stream
// event protocol, the scheduler and the reactive runner. The cache package
// holds the output cache with in-memory, file, Redis, SQLite and PostgreSQL
// backends. The log package is the engine's pluggable logging surface.
//
// See the graph package documentation for a worked example.
package taskgraphgo
