package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the client configuration is incomplete.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidResponse is returned when the API response cannot be used.
	ErrInvalidResponse = errors.New("invalid response from gemini")

	// ErrContentBlocked is returned when safety filters block the response.
	ErrContentBlocked = errors.New("content blocked by gemini safety filters")
)
