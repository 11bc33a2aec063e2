// Package pebble implements the local storage tier on an on-disk Pebble
// key/value store.
//
// Records live under a fixed key prefix so that Clear can drop them with a
// single range deletion without touching other data in the same database.
package pebble
