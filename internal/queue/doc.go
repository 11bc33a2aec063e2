// Package queue implements priority-ordered admission control and dispatch of
// transcription jobs under resource constraints.
//
// A Manager owns three pieces of state: the PriorityStore (five priority
// buckets plus processing/completed/failed/cancelled maps), the
// ResourceLedger (memory, API quota and processing-slot counters), and a
// callback registry keyed by job ID. All of it is mutated only through the
// Manager's methods, which serialize access with a single mutex. Status
// transitions are published as events.JobStateChange events after the lock is
// released, so handlers may call back into the Manager.
package queue
