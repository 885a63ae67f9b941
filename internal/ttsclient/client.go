// Package ttsclient provides the retrying HTTP gateway to the external
// TTS/STT service.
//
// The service fails occasionally under multi-hour workloads, so every
// generation call is classified on failure: server-side errors and timeouts
// are transient and retried on a fixed backoff schedule, client-side
// rejections are permanent and surface immediately. When the retry budget is
// exhausted the last observed error is returned unchanged.
package ttsclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/book-expert/audiobook-service/internal/observability"
	"github.com/book-expert/logger"
)

// Metric outcome labels.
const (
	outcomeSuccess   = "success"
	outcomeTransient = "transient"
	outcomePermanent = "permanent"
)

// API endpoints.
const (
	apiGeneratePreset = "/tts"
	apiGenerateClone  = "/tts/clone"
	apiHealth         = "/health"
	apiTranscribe     = "/v1/audio/transcriptions"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Token/length budgets per generation mode. Cloned-voice generation costs
// more per token, so it carries a smaller budget than preset voices.
const (
	DefaultMaxTokensPreset = 3600
	DefaultMaxTokensClone  = 1440
)

// Default network behavior.
const (
	DefaultMaxAttempts           = 3
	DefaultConnectTimeoutSeconds = 10
	DefaultRequestTimeoutSeconds = 600
	transcribeTimeout            = 60 * time.Second
	healthTimeout                = 5 * time.Second

	transcribeFileName  = "reference.wav"
	transcribeModelName = "large-v3-turbo"
)

// defaultBackoffSeconds is the wait schedule between transient failures.
func defaultBackoffSeconds() []int {
	return []int{5, 10, 20}
}

// Static errors.
var (
	// ErrTransient wraps server-side or timeout failures that were
	// retried.
	ErrTransient = errors.New("transient TTS service error")

	// ErrPermanent wraps client-side rejections that must not be retried.
	ErrPermanent = errors.New("permanent TTS service error")

	ErrTextEmpty     = errors.New("text cannot be empty")
	ErrRefAudioEmpty = errors.New("reference audio cannot be empty")
	ErrEmptyAudio    = errors.New("received empty audio data")
)

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	BaseURL               string
	STTBaseURL            string
	MaxAttempts           int
	BackoffSeconds        []int
	ConnectTimeoutSeconds int
	RequestTimeoutSeconds int
	MaxTokensPreset       int
	MaxTokensClone        int
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}

	if len(o.BackoffSeconds) == 0 {
		o.BackoffSeconds = defaultBackoffSeconds()
	}

	if o.ConnectTimeoutSeconds <= 0 {
		o.ConnectTimeoutSeconds = DefaultConnectTimeoutSeconds
	}

	if o.RequestTimeoutSeconds <= 0 {
		o.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}

	if o.MaxTokensPreset <= 0 {
		o.MaxTokensPreset = DefaultMaxTokensPreset
	}

	if o.MaxTokensClone <= 0 {
		o.MaxTokensClone = DefaultMaxTokensClone
	}
}

// Client is the retrying gateway to the TTS and STT services.
type Client struct {
	httpClient *http.Client
	sttClient  *http.Client
	opts       Options
	log        *logger.Logger

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// presetRequest is the JSON payload for preset-voice generation.
type presetRequest struct {
	Text         string `json:"text"`
	Voice        string `json:"voice"`
	Language     string `json:"language"`
	MaxNewTokens int    `json:"max_new_tokens"`
}

// cloneRequest is the JSON payload for cloned-voice generation. RefAudio is
// base64-encoded WAV bytes; RefText is the optional reference transcript.
type cloneRequest struct {
	Text         string `json:"text"`
	RefAudio     string `json:"ref_audio"`
	RefText      string `json:"ref_text,omitempty"`
	Language     string `json:"language"`
	MaxNewTokens int    `json:"max_new_tokens"`
}

// transcribeResponse is the JSON body returned by the STT service.
type transcribeResponse struct {
	Text string `json:"text"`
}

// New creates a gateway client. Separate connect and total timeouts bound
// every request; a hung service cannot stall a job forever.
func New(opts Options, log *logger.Logger) *Client {
	opts.applyDefaults()

	dialer := &net.Dialer{
		Timeout: time.Duration(opts.ConnectTimeoutSeconds) * time.Second,
	}
	transport := &http.Transport{
		DialContext: dialer.DialContext,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(opts.RequestTimeoutSeconds) * time.Second,
		},
		sttClient: &http.Client{
			Transport: transport.Clone(),
			Timeout:   transcribeTimeout,
		},
		opts:  opts,
		log:   log,
		sleep: time.Sleep,
	}
}

// GeneratePreset synthesizes text with a named preset voice and returns raw
// audio bytes.
func (c *Client) GeneratePreset(ctx context.Context, text, voice, language string) ([]byte, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	body, err := json.Marshal(presetRequest{
		Text:         text,
		Voice:        voice,
		Language:     language,
		MaxNewTokens: c.opts.MaxTokensPreset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preset request: %w", err)
	}

	return c.generateWithRetry(ctx, apiGeneratePreset, body)
}

// GenerateClone synthesizes text conditioned on a reference audio sample.
// refText may be empty when no reference transcript is available.
func (c *Client) GenerateClone(
	ctx context.Context,
	text string,
	refAudio []byte,
	refText, language string,
) ([]byte, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	if len(refAudio) == 0 {
		return nil, ErrRefAudioEmpty
	}

	body, err := json.Marshal(cloneRequest{
		Text:         text,
		RefAudio:     base64.StdEncoding.EncodeToString(refAudio),
		RefText:      refText,
		Language:     language,
		MaxNewTokens: c.opts.MaxTokensClone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal clone request: %w", err)
	}

	return c.generateWithRetry(ctx, apiGenerateClone, body)
}

// Transcribe derives a transcript from an audio sample via the STT service.
// Transcription is a one-shot call; the retry budget applies to generation
// only.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrRefAudioEmpty
	}

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", transcribeFileName)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = part.Write(audio)
	if err != nil {
		return "", fmt.Errorf("failed to write audio form data: %w", err)
	}

	err = writer.WriteField("model", transcribeModelName)
	if err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.opts.STTBaseURL+apiTranscribe,
		&buf,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transcription request: %w", err)
	}

	req.Header.Set(headerContentType, writer.FormDataContentType())

	resp, err := c.sttClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request to %s failed: %w", c.opts.STTBaseURL, err)
	}
	defer closeBody(resp.Body, c.log)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return "", fmt.Errorf(
			"STT service returned non-OK status %s: %s",
			resp.Status,
			string(body),
		)
	}

	var decoded transcribeResponse

	err = json.NewDecoder(resp.Body).Decode(&decoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}

	return decoded.Text, nil
}

// Health verifies that the TTS service is running and reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.opts.BaseURL+apiHealth,
		http.NoBody,
	)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.opts.BaseURL, err)
	}
	defer closeBody(resp.Body, c.log)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned status %s", ErrTransient, resp.Status)
	}

	return nil
}

// generateWithRetry posts a generation payload, retrying transient failures
// on the backoff schedule, and returns audio bytes.
func (c *Client) generateWithRetry(ctx context.Context, path string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		audio, err := c.generateOnce(ctx, path, body)
		if err == nil {
			observability.RecordTTSRequest(outcomeSuccess)

			return audio, nil
		}

		if errors.Is(err, ErrPermanent) {
			observability.RecordTTSRequest(outcomePermanent)

			return nil, err
		}

		observability.RecordTTSRequest(outcomeTransient)

		lastErr = err

		if attempt == c.opts.MaxAttempts {
			break
		}

		wait := c.backoffFor(attempt)
		c.log.Warn(
			"TTS request failed (attempt %d/%d), retrying in %s: %v",
			attempt, c.opts.MaxAttempts, wait, err,
		)
		observability.RecordTTSRetry()
		c.sleep(wait)
	}

	return nil, lastErr
}

func (c *Client) generateOnce(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.opts.BaseURL+path,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures and timeouts are transient by definition.
		return nil, fmt.Errorf("%w: request to %s failed: %w", ErrTransient, c.opts.BaseURL, err)
	}
	defer closeBody(resp.Body, c.log)

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio data: %w", ErrTransient, err)
	}

	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrTransient, ErrEmptyAudio)
	}

	return audio, nil
}

// classifyStatus maps a non-OK generation response onto the error taxonomy:
// 5xx is transient, anything else is a permanent client-side rejection.
func (c *Client) classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf(
			"%w: service returned status %s: %s",
			ErrTransient,
			resp.Status,
			string(body),
		)
	}

	return fmt.Errorf(
		"%w: service rejected request with status %s: %s",
		ErrPermanent,
		resp.Status,
		string(body),
	)
}

// backoffFor returns the wait before the next attempt, clamping to the last
// schedule entry when attempts outnumber it.
func (c *Client) backoffFor(attempt int) time.Duration {
	index := attempt - 1
	if index >= len(c.opts.BackoffSeconds) {
		index = len(c.opts.BackoffSeconds) - 1
	}

	return time.Duration(c.opts.BackoffSeconds[index]) * time.Second
}

func closeBody(body io.Closer, log *logger.Logger) {
	closeErr := body.Close()
	if closeErr != nil {
		log.Warn("Failed to close response body: %v", closeErr)
	}
}
