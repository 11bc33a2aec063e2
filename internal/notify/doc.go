// Package notify fans job lifecycle notifications out to in-process
// subscribers and, when a broadcast transport is configured, to other
// components. Progress notifications are throttled per job.
package notify
