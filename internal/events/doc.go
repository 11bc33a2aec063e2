// Package events provides the in-process event envelope used to propagate job
// lifecycle changes between components.
//
// The queue manager emits events without knowing which components consume
// them; the job tracker, the notification bridge, and the background
// coordinator register handlers. This keeps the queue free of references to
// its observers.
//
// The primary components are:
// - Event: envelope with a typed JSON payload
// - JobStateChange: payload describing a job status transition
// - EventHandler / EventEmitter: consumer and producer interfaces
package events
