// Package triage provides the business boundary for taskdesk's unified task queue.
// It defines the source adapter interfaces and raw records, the Aggregator (concurrent
// fan-out over every source), Normalize (source-order merge into AggregatedTask), the
// Session (completion set, views, selection, draft buffer) and the Service that owns
// sessions for the HTTP layer.
package triage
