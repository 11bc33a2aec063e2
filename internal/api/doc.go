// Package api exposes the job queue, layered storage and conflict resolver
// over HTTP. Routes live under /v1 and, except for the health probe, require
// a bearer token issued by package auth.
package api
