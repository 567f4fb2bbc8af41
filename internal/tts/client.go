// Package tts talks to the hosted text-to-speech provider over its HTTP
// streaming endpoint and returns the synthesized audio as MPEG bytes.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxTextLength is the provider's per-request character limit.
const MaxTextLength = 5000

const requestTimeout = 60 * time.Second

var (
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("tts: empty text")
	// ErrTextTooLong is returned when the text exceeds MaxTextLength.
	ErrTextTooLong = fmt.Errorf("tts: text exceeds %d characters", MaxTextLength)
)

// ProviderError describes a non-success response from the provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts: provider status=%d body=%s", e.StatusCode, e.Body)
}

// Client synthesizes speech through the provider's HTTP streaming endpoint.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	VoiceID    string
}

func NewClient(baseURL, apiKey, voiceID string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: requestTimeout},
		BaseURL:    baseURL,
		APIKey:     apiKey,
		VoiceID:    voiceID,
	}
}

// Configured reports whether the provider credentials are present. Callers
// use this to fall back to client-side synthesis instead of failing the call.
func (c *Client) Configured() bool {
	return c.BaseURL != "" && c.APIKey != "" && c.VoiceID != ""
}

type synthesizeBody struct {
	ModelID       string        `json:"model_id"`
	Text          string        `json:"text"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// Synthesize converts text to MPEG audio. The whole clip is read before
// returning so callers get either complete audio or an error.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if len([]rune(text)) > MaxTextLength {
		return nil, ErrTextTooLong
	}
	if !c.Configured() {
		return nil, errors.New("tts: provider not configured")
	}

	endpoint, err := c.endpointURL()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(synthesizeBody{
		ModelID: "eleven_flash_v2_5",
		Text:    text,
		VoiceSettings: voiceSettings{
			Stability:       0.4,
			SimilarityBoost: 0.7,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tts: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		perr := &ProviderError{StatusCode: resp.StatusCode, Body: string(snippet)}
		logrus.WithField("status", resp.StatusCode).Warn("tts: provider returned error")
		return nil, perr
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read audio stream: %w", err)
	}
	if len(audio) == 0 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: "empty audio body"}
	}
	if !looksLikeMPEG(audio) {
		// The clip still gets sent; browsers tolerate odd containers.
		logrus.WithField("bytes", len(audio)).Warn("tts: response does not look like MPEG audio")
	}
	return audio, nil
}

func (c *Client) endpointURL() (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("tts: invalid base url: %w", err)
	}
	base.Path = "/v1/text-to-speech/" + c.VoiceID + "/stream"
	q := base.Query()
	q.Set("output_format", "mp3_44100_128")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// looksLikeMPEG checks for an ID3 tag or an MPEG frame sync at the start.
func looksLikeMPEG(b []byte) bool {
	if len(b) >= 3 && b[0] == 'I' && b[1] == 'D' && b[2] == '3' {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}
