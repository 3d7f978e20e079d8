// Package perf hosts opt-in performance benchmarks for the simulation engine
// and session layer.
//
// The benchmarks are behind build tags (`perf`, `perf_large`) so they stay
// out of default test runs, but having this file without tags keeps the
// package discoverable by editors and `go list`.
package perf
