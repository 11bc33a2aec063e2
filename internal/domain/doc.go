// Package domain contains the core entities of the transcription job system:
// jobs, their priorities and status state machine, resource allocations, and
// the job error taxonomy. It is independent of any queue, storage, or
// transport implementation.
package domain
