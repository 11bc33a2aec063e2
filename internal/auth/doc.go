// Package auth issues and validates the HMAC-signed bearer tokens that
// components present to the HTTP boundary.
package auth
