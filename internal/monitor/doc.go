// Package monitor runs the monitoring cycle: on every trigger tick it scans
// all enabled chains in parallel, dispatches their events in order and
// advances each chain's checkpoint no further than what was delivered.
//
// At most one cycle runs at a time. A tick that arrives while a cycle is in
// progress is dropped and counted, never queued. RunCycle never returns an
// error and never panics; every failure ends up in logs, metrics and the
// stats store.
package monitor
