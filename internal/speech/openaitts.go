package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

// OpenAI's speech endpoint rejects inputs beyond this length.
const ttsMaxInputLen = 4096

// OpenAITTS is the secondary synthesizer, used when ElevenLabs is exhausted.
type OpenAITTS struct {
	apiKey     string
	model      string
	voice      string
	baseURL    string
	httpClient *http.Client
}

// OpenAITTSOption configures the OpenAI synthesizer.
type OpenAITTSOption func(*OpenAITTS)

// WithOpenAITTSHTTPClient sets a custom HTTP client.
func WithOpenAITTSHTTPClient(client *http.Client) OpenAITTSOption {
	return func(o *OpenAITTS) { o.httpClient = client }
}

// WithOpenAITTSBaseURL overrides the API base URL (used by tests).
func WithOpenAITTSBaseURL(base string) OpenAITTSOption {
	return func(o *OpenAITTS) { o.baseURL = base }
}

func NewOpenAITTS(apiKey, model, voice string, opts ...OpenAITTSOption) *OpenAITTS {
	if model == "" {
		model = "tts-1"
	}
	if voice == "" {
		voice = "alloy"
	}
	o := &OpenAITTS{
		apiKey:     apiKey,
		model:      model,
		voice:      voice,
		baseURL:    "https://api.openai.com/v1",
		httpClient: &http.Client{Timeout: 45 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpenAITTS) Name() string    { return "openai-tts" }
func (o *OpenAITTS) Available() bool { return o.apiKey != "" }

type openAITTSRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
	Input string `json:"input"`
}

func (o *OpenAITTS) Synthesize(ctx context.Context, text string) (*Audio, error) {
	if len(text) > ttsMaxInputLen {
		cut := ttsMaxInputLen
		// Back off to a rune boundary so the payload stays valid UTF-8.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	body, err := json.Marshal(&openAITTSRequest{
		Model: o.model,
		Voice: o.voice,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
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
