// Package tracker keeps a per-job lifecycle history and the latest progress
// report, independent of the queue's own bookkeeping. It flags processing jobs
// that exceed their priority-specific timeout and aggregates statistics over
// tracked jobs.
package tracker
