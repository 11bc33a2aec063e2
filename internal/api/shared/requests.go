package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// MaxBodyBytes caps request bodies read by DecodeJSON.
const MaxBodyBytes = 4 << 20

// Request decoding errors
var (
	// ErrEmptyBody is returned by DecodeJSON for a request without a body.
	ErrEmptyBody = errors.New("request body is empty")
	// ErrInvalidBody is returned by DecodeJSON for malformed JSON.
	ErrInvalidBody = errors.New("invalid request body")
	// ErrInvalidDuration is returned for duration fields that do not parse.
	ErrInvalidDuration = errors.New("invalid duration")
)

// Global validator instance for reuse
var validate = validator.New()

// DecodeJSON decodes the request body into v. Unknown fields are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}

// ValidateRequest validates the given struct using the validator package.
func ValidateRequest(v interface{}) error {
	// Check if the object implements the Validate interface
	if validator, ok := v.(interface{ Validate() error }); ok {
		return validator.Validate()
	}

	// Otherwise, use the struct validator
	return validate.Struct(v)
}
