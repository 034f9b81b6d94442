package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "nova-3"

	// costPerMinuteUSD is Deepgram's published per-minute rate, used for
	// the cost estimate surfaced to users.
	costPerMinuteUSD = 0.0043
)

// DeepgramConfig holds Deepgram transcription configuration.
type DeepgramConfig struct {
	// APIKey is the Deepgram API key.
	APIKey string `yaml:"api_key"`

	// Model selects the recognition model. Default "nova-3".
	Model string `yaml:"model"`

	// Language sets recognition language. Default "multi" (auto-detect).
	Language string `yaml:"language"`

	// BaseURL overrides the API endpoint.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds one transcription request.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultDeepgramConfig returns a DeepgramConfig with sensible defaults.
func DefaultDeepgramConfig() DeepgramConfig {
	return DeepgramConfig{
		Model:    defaultModel,
		Language: "multi",
		BaseURL:  defaultBaseURL,
		Timeout:  60 * time.Second,
	}
}

// Deepgram implements Transcriber over the prerecorded listen API.
type Deepgram struct {
	cfg    DeepgramConfig
	client *http.Client
	logger *slog.Logger
}

// NewDeepgram creates a Deepgram transcriber. A nil logger falls back to
// slog.Default().
func NewDeepgram(cfg DeepgramConfig, logger *slog.Logger) *Deepgram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = "multi"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Deepgram{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "deepgram"),
	}
}

// deepgramResponse mirrors the slices of the listen API response we read.
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe sends the audio to /v1/listen and extracts the first
// alternative of the first channel.
func (d *Deepgram) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcription, error) {
	if d.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("transcribe: empty audio")
	}
	if mimeType == "" {
		mimeType = "audio/ogg"
	}

	query := url.Values{}
	query.Set("model", d.cfg.Model)
	query.Set("smart_format", "true")
	query.Set("language", d.cfg.Language)
	endpoint := d.cfg.BaseURL + "/v1/listen?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("transcribe: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.cfg.APIKey)
	req.Header.Set("Content-Type", mimeType)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("transcribe: deepgram returned %s: %s",
			resp.Status, strings.TrimSpace(string(body)))
	}

	var parsed deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("transcribe: decoding response: %w", err)
	}

	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return nil, ErrEmptyTranscript
	}
	alt := parsed.Results.Channels[0].Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return nil, ErrEmptyTranscript
	}

	duration := parsed.Metadata.Duration
	result := &Transcription{
		Text:       text,
		Confidence: alt.Confidence,
		Duration:   duration,
		CostUSD:    duration / 60 * costPerMinuteUSD,
	}
	d.logger.Info("transcription complete",
		"chars", len(text),
		"audio_seconds", duration,
		"confidence", alt.Confidence,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return result, nil
}

var _ Transcriber = (*Deepgram)(nil)
