// Package speech defines the speech-to-text client contract used by
// transcription jobs and a bounded pool of connected clients.
package speech

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by clients and the pool
var (
	ErrNotConnected   = errors.New("speech client not connected")
	ErrPoolClosed     = errors.New("speech client pool closed")
	ErrEmptyAudio     = errors.New("audio url cannot be empty")
	ErrTranscription  = errors.New("transcription failed")
	ErrTransientError = errors.New("transient speech service failure")
)

// Request describes one transcription.
type Request struct {
	JobID    string
	AudioURL string
	// MIMEType of the audio; empty lets the client guess from the URL.
	MIMEType string
	// Language is a BCP 47 tag; empty means auto-detect.
	Language string
}

// Segment is a transcribed span of audio.
type Segment struct {
	Speaker string        `json:"speaker,omitempty"`
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
	Text    string        `json:"text"`
}

// Transcript is the result of a transcription.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	Model    string    `json:"model,omitempty"`
}

// ProgressFunc receives progress while a transcription runs. Percentage is
// in [0, 100].
type ProgressFunc func(percentage float64, stage string)

// Client talks to a speech service. Implementations need not be safe for
// concurrent use; the Pool hands each client to one caller at a time.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// StartTranscription runs a transcription to completion. progress may
	// be nil.
	StartTranscription(ctx context.Context, req Request, progress ProgressFunc) (*Transcript, error)
	// StopTranscription aborts the transcription in progress, if any.
	StopTranscription(ctx context.Context) error
}

// Factory creates unconnected clients for the Pool.
type Factory func(ctx context.Context) (Client, error)
