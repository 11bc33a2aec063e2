// Package task runs queued jobs in the background. The Runner pulls jobs from
// the queue whenever it is woken by an enqueue or a poll tick, executes each
// one on its own goroutine under a concurrency bound, and reports the outcome
// back to the queue. Executors hold the job-specific work; the transcription
// executor sends the job's audio to a pooled speech client.
package task
