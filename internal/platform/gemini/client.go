package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/speech"
	"google.golang.org/genai"
)

const defaultPrompt = `Transcribe the attached meeting recording.
{{- if .Language}} The spoken language is {{.Language}}.{{end}}
Identify distinct speakers as "Speaker 1", "Speaker 2" and so on.
Respond with JSON only, in this shape:
{"language": "<BCP 47 tag>", "segments": [{"speaker": "...", "start_seconds": 0.0, "end_seconds": 0.0, "text": "..."}]}`

const fallbackMIMEType = "audio/mpeg"

// ContentGenerator is the part of the genai client used for transcription.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeneratorFactory connects to the API. The default factory builds a genai
// client for the Gemini API backend.
type GeneratorFactory func(ctx context.Context, cfg Config) (ContentGenerator, error)

func newGenAIGenerator(ctx context.Context, cfg Config) (ContentGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}
	return client.Models, nil
}

// Client transcribes audio with Gemini. It implements speech.Client.
type Client struct {
	config  Config
	prompt  *template.Template
	factory GeneratorFactory
	clock   clockwork.Clock
	logger  *slog.Logger

	mu        sync.Mutex
	generator ContentGenerator
	cancel    context.CancelFunc
}

var _ speech.Client = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithGeneratorFactory replaces the genai connection, for tests.
func WithGeneratorFactory(f GeneratorFactory) Option {
	return func(c *Client) { c.factory = f }
}

// WithClock sets the clock used for retry delays.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient creates an unconnected Client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	text := cfg.Prompt
	if text == "" {
		text = defaultPrompt
	}
	prompt, err := template.New("transcription").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", ErrInvalidConfig, err)
	}

	c := &Client{
		config:  cfg,
		prompt:  prompt,
		factory: newGenAIGenerator,
		clock:   clockwork.NewRealClock(),
		logger:  logger.With("component", "gemini_speech", "model", cfg.Model),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Factory returns a speech.Factory producing Clients with this configuration.
func Factory(cfg Config, logger *slog.Logger, opts ...Option) speech.Factory {
	return func(ctx context.Context) (speech.Client, error) {
		return NewClient(cfg, logger, opts...)
	}
}

// Connect creates the underlying API client.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generator != nil {
		return nil
	}
	gen, err := c.factory(ctx, c.config)
	if err != nil {
		return err
	}
	c.generator = gen
	return nil
}

// Disconnect stops any running transcription and drops the API client.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generator = nil
	return nil
}

// StopTranscription cancels the running transcription, if any.
func (c *Client) StopTranscription(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}

// StartTranscription sends the recording to Gemini and waits for the
// transcript, retrying transient failures.
func (c *Client) StartTranscription(ctx context.Context, req speech.Request, progress speech.ProgressFunc) (*speech.Transcript, error) {
	if req.AudioURL == "" {
		return nil, speech.ErrEmptyAudio
	}
	if progress == nil {
		progress = func(float64, string) {}
	}

	c.mu.Lock()
	gen := c.generator
	if gen == nil {
		c.mu.Unlock()
		return nil, speech.ErrNotConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	prompt, err := c.renderPrompt(req)
	if err != nil {
		return nil, err
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = guessMIMEType(req.AudioURL)
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(req.AudioURL, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	logger := c.logger.With("job_id", req.JobID)
	progress(10, "uploading")
	text, err := c.generateWithRetry(ctx, logger, gen, contents, progress)
	if err != nil {
		return nil, err
	}

	progress(90, "parsing")
	transcript, err := parseTranscript(text)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to parse Gemini transcript", "error", err)
		return nil, fmt.Errorf("%w: %w", speech.ErrTranscription, err)
	}
	transcript.Model = c.config.Model
	if transcript.Language == "" {
		transcript.Language = req.Language
	}
	progress(100, "transcribed")
	return transcript, nil
}

func (c *Client) renderPrompt(req speech.Request) (string, error) {
	var buf bytes.Buffer
	if err := c.prompt.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// generateWithRetry calls the API up to MaxRetries+1 times, using exponential
// backoff with jitter between attempts. Blocked or unusable responses are
// returned immediately.
func (c *Client) generateWithRetry(
	ctx context.Context,
	logger *slog.Logger,
	gen ContentGenerator,
	contents []*genai.Content,
	progress speech.ProgressFunc,
) (string, error) {
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	maxRetries := c.config.MaxRetries

	for attempt := 0; ; attempt++ {
		logger.InfoContext(ctx, "Making Gemini API call",
			"attempt", attempt+1,
			"max_attempts", maxRetries+1)
		progress(20, "transcribing")

		resp, err := gen.GenerateContent(ctx, c.config.Model, contents, cfg)
		if err == nil {
			text, respErr := responseText(resp)
			if respErr != nil {
				logger.WarnContext(ctx, "Permanent error occurred, not retrying", "error", respErr)
				return "", fmt.Errorf("%w: %w", speech.ErrTranscription, respErr)
			}
			logger.InfoContext(ctx, "Gemini API call successful", "attempt", attempt+1)
			return text, nil
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.ErrorContext(ctx, "Gemini API call failed",
			"attempt", attempt+1,
			"error", err)

		if attempt >= maxRetries {
			logger.WarnContext(ctx, "Maximum retry attempts reached", "max_retries", maxRetries)
			return "", fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				speech.ErrTransientError, maxRetries, err)
		}

		delay := backoff(c.config.RetryDelay, attempt)
		logger.InfoContext(ctx, "Retrying after delay",
			"attempt", attempt+1,
			"delay", delay)
		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// backoff returns base * 2^attempt scaled by a jitter factor in [0.5, 1.0).
func backoff(base time.Duration, attempt int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	return time.Duration(d * (0.5 + rand.Float64()*0.5))
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	switch {
	case resp == nil:
		return "", fmt.Errorf("%w: nil response", ErrInvalidResponse)
	case len(resp.Candidates) == 0:
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	case resp.Candidates[0].FinishReason == genai.FinishReasonSafety:
		return "", ErrContentBlocked
	case resp.Candidates[0].Content == nil:
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text in response", ErrInvalidResponse)
	}
	return sb.String(), nil
}

// transcriptSchema is the JSON shape requested from the model.
type transcriptSchema struct {
	Language string `json:"language"`
	Segments []struct {
		Speaker      string  `json:"speaker"`
		StartSeconds float64 `json:"start_seconds"`
		EndSeconds   float64 `json:"end_seconds"`
		Text         string  `json:"text"`
	} `json:"segments"`
}

func parseTranscript(text string) (*speech.Transcript, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")

	var parsed transcriptSchema
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}

	out := &speech.Transcript{
		Language: parsed.Language,
		Segments: make([]speech.Segment, 0, len(parsed.Segments)),
	}
	lines := make([]string, 0, len(parsed.Segments))
	for i, s := range parsed.Segments {
		if s.EndSeconds < s.StartSeconds {
			return nil, fmt.Errorf("%w: segment %d ends before it starts", ErrInvalidResponse, i)
		}
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		out.Segments = append(out.Segments, speech.Segment{
			Speaker: s.Speaker,
			Start:   seconds(s.StartSeconds),
			End:     seconds(s.EndSeconds),
			Text:    t,
		})
		lines = append(lines, t)
	}
	out.Text = strings.Join(lines, "\n")
	return out, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func guessMIMEType(audioURL string) string {
	u, err := url.Parse(audioURL)
	if err != nil {
		return fallbackMIMEType
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".webm":
		return "audio/webm"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	}
	if t := mime.TypeByExtension(ext); strings.HasPrefix(t, "audio/") {
		return t
	}
	return fallbackMIMEType
}
