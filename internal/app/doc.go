// Package app owns the background process: it builds every subsystem from
// configuration, wires the queue's events into the tracker, the notifier and
// job persistence, runs scheduled maintenance and reports health.
//
// Subsystems share the Lifecycle contract. App starts them in dependency
// order, stops them in reverse and checks their health concurrently.
package app
