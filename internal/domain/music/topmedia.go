package music

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"koemuse-server/internal/platform/errors"
)

// ResultKind tags the shape of a generation response. The vendor returns
// either a hosted file URL or an inline base64 payload; a response with
// neither is invalid and must not reach persistence.
type ResultKind int

const (
	ResultURL ResultKind = iota
	ResultInlineAudio
	ResultInvalid
)

// GenerateResult is the decoded generation response.
type GenerateResult struct {
	Kind ResultKind

	// URL is set for ResultURL.
	URL string
	// Audio is the decoded payload for ResultInlineAudio.
	Audio []byte
}

// ClientConfig holds the music endpoint settings.
type ClientConfig struct {
	Endpoint        string
	APIKey          string
	DurationSeconds int
	OutputFormat    string
}

// Client calls the TopMediai music generation endpoint.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient builds a music generation client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.DurationSeconds <= 0 {
		cfg.DurationSeconds = 30
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3"
	}
	return &Client{
		cfg: cfg,
		// generation is slow; well above the usual API timeout
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type generateRequest struct {
	TextPrompt   string `json:"text_prompt"`
	Duration     int    `json:"duration"`
	OutputFormat string `json:"output_format"`
}

type generateResponse struct {
	MusicFileURL    *string `json:"music_file_url"`
	AudioDataBase64 *string `json:"audio_data_base64"`
}

// OutputFormat reports the configured output format, used for generated
// file extensions.
func (c *Client) OutputFormat() string {
	return c.cfg.OutputFormat
}

// Generate submits the instruction and returns the tagged result. HTTP
// and decode failures come back as KindGeneration errors.
func (c *Client) Generate(ctx context.Context, instruction string) (*GenerateResult, error) {
	body, err := json.Marshal(generateRequest{
		TextPrompt:   instruction,
		Duration:     c.cfg.DurationSeconds,
		OutputFormat: c.cfg.OutputFormat,
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindGeneration, "music.generate", "failed to encode generation request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindGeneration, "music.generate", "failed to build generation request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindGeneration, "music.generate", "music generation request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindGeneration, "music.generate", "failed to read generation response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.KindGeneration, "music.generate",
			fmt.Sprintf("music endpoint returned HTTP %d: %s", resp.StatusCode, string(payload)))
	}

	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, errors.Wrap(errors.KindGeneration, "music.generate", "malformed generation response", err)
	}

	switch {
	case decoded.MusicFileURL != nil && *decoded.MusicFileURL != "":
		return &GenerateResult{Kind: ResultURL, URL: *decoded.MusicFileURL}, nil
	case decoded.AudioDataBase64 != nil && *decoded.AudioDataBase64 != "":
		audio, err := decodeBase64Audio(*decoded.AudioDataBase64)
		if err != nil {
			return nil, errors.Wrap(errors.KindGeneration, "music.generate", "failed to decode inline audio payload", err)
		}
		return &GenerateResult{Kind: ResultInlineAudio, Audio: audio}, nil
	default:
		return &GenerateResult{Kind: ResultInvalid}, nil
	}
}
