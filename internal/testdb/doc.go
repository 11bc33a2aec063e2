// Package testdb provides helpers for integration tests that need real
// backing services. Tests are skipped when the service URL is not set,
// unless running in CI where a missing URL is a failure.
package testdb
