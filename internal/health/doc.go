// Package health keeps the bounded set of named probes behind /health.
//
// A probe belongs to the component that registered it; the registry only races
// each probe against a fixed timeout and reports a boolean per key. Aggregation
// never fails: a probe that errors, panics or misses its deadline is reported as
// false while the others are still collected.
package health
