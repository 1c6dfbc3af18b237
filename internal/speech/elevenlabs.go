package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"
	elevenLabsModel   = "eleven_monolingual_v1"
)

// ElevenLabs is the primary speech synthesizer.
type ElevenLabs struct {
	apiKey     string
	voiceID    string
	baseURL    string
	httpClient *http.Client
}

// ElevenLabsOption configures the ElevenLabs synthesizer.
type ElevenLabsOption func(*ElevenLabs)

// WithElevenLabsHTTPClient sets a custom HTTP client.
func WithElevenLabsHTTPClient(client *http.Client) ElevenLabsOption {
	return func(e *ElevenLabs) { e.httpClient = client }
}

// WithElevenLabsBaseURL overrides the API base URL (used by tests).
func WithElevenLabsBaseURL(base string) ElevenLabsOption {
	return func(e *ElevenLabs) { e.baseURL = base }
}

func NewElevenLabs(apiKey, voiceID string, opts ...ElevenLabsOption) *ElevenLabs {
	e := &ElevenLabs{
		apiKey:     apiKey,
		voiceID:    voiceID,
		baseURL:    elevenLabsBaseURL,
		httpClient: &http.Client{Timeout: 45 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ElevenLabs) Name() string    { return "elevenlabs" }
func (e *ElevenLabs) Available() bool { return e.apiKey != "" && e.voiceID != "" }

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*Audio, error) {
	body, err := json.Marshal(&elevenLabsRequest{
		Text:    text,
		ModelID: elevenLabsModel,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.5,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio response")
	}
	return &Audio{Bytes: audio, ContentType: "audio/mpeg"}, nil
}
