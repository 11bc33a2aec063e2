// Package gemini provides a speech.Client that transcribes meeting audio with
// Google's Gemini API.
//
// The client sends the recording by URI together with a transcription prompt
// and asks for a JSON response, which it converts into a speech.Transcript.
// Transient API failures are retried with exponential backoff and jitter;
// blocked or malformed responses are reported as permanent transcription
// failures without retrying.
package gemini
