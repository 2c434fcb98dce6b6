// Package metrics exposes gateway counters in the Prometheus text format.
//
// Each Metrics value owns a private registry, so tests and multiple servers
// in one process never collide on registration. Every method is nil-safe,
// letting components accept an optional *Metrics.
package metrics
