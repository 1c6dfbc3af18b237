package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohtashammurshid/jarvisd/internal/logging"
)

const (
	// Whisper rejects files above 25MB.
	maxClipSize = 25 << 20
	// Clips shorter than ~1KB are silence or a truncated recording and are
	// not worth an API call.
	minClipSize = 1000
)

// ErrNoAudio means the request carried no audio at all. It maps to a
// validation failure rather than a fallback.
var ErrNoAudio = errors.New("no audio data provided")

// Clip is an uploaded audio recording.
type Clip struct {
	Bytes       []byte
	Filename    string
	ContentType string
}

// TranscriptOutcome is the result of a transcription attempt. Fallback set
// means the client should transcribe locally.
type TranscriptOutcome struct {
	Transcript string
	Confidence float64
	Fallback   bool
	Message    string
}

// Transcriber is the OpenAI Whisper multipart client.
type Transcriber struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// TranscriberOption configures the Transcriber.
type TranscriberOption func(*Transcriber)

// WithTranscriberHTTPClient sets a custom HTTP client.
func WithTranscriberHTTPClient(client *http.Client) TranscriberOption {
	return func(t *Transcriber) { t.httpClient = client }
}

// WithTranscriberBaseURL overrides the API base URL (used by tests).
func WithTranscriberBaseURL(base string) TranscriberOption {
	return func(t *Transcriber) { t.baseURL = base }
}

func NewTranscriber(apiKey, model string, opts ...TranscriberOption) *Transcriber {
	if model == "" {
		model = "whisper-1"
	}
	t := &Transcriber{
		apiKey:     apiKey,
		model:      model,
		baseURL:    "https://api.openai.com/v1",
		httpClient: &http.Client{Timeout: 45 * time.Second},
		log:        logging.WithComponent("transcribe"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcribe runs the gate chain and, when the clip passes, uploads it to
// Whisper. Provider rejections degrade to a fallback outcome; only transport
// errors surface as errors.
func (t *Transcriber) Transcribe(ctx context.Context, clip Clip) (*TranscriptOutcome, error) {
	if len(clip.Bytes) == 0 {
		return nil, ErrNoAudio
	}
	if len(clip.Bytes) > maxClipSize {
		return &TranscriptOutcome{Fallback: true, Message: "audio file too large, use browser speech recognition"}, nil
	}
	if len(clip.Bytes) < minClipSize {
		return &TranscriptOutcome{Fallback: true, Message: "audio clip too short, use browser speech recognition"}, nil
	}
	if t.apiKey == "" {
		return &TranscriptOutcome{Fallback: true, Message: "transcription not configured, use browser speech recognition"}, nil
	}

	clip = repackWebM(clip)

	transcript, status, err := t.upload(ctx, clip)
	if err != nil {
		return nil, err
	}
	if status >= 400 && status < 500 {
		t.log.Warn().Int("status", status).Str("filename", clip.Filename).Msg("provider rejected clip")
		return &TranscriptOutcome{Fallback: true, Message: "audio format not accepted, use browser speech recognition"}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("transcription api returned status %d", status)
	}

	// Whisper does not report confidence on the plain json response format.
	return &TranscriptOutcome{Transcript: transcript, Confidence: 1.0}, nil
}

// repackWebM relabels browser WebM recordings as MP4. Whisper accepts the
// Opus payload either way but rejects some webm containers by extension; the
// bytes are untouched.
func repackWebM(clip Clip) Clip {
	isWebM := strings.Contains(clip.ContentType, "webm") ||
		strings.HasSuffix(strings.ToLower(clip.Filename), ".webm")
	if !isWebM {
		if clip.Filename == "" {
			clip.Filename = "recording.mp4"
		}
		return clip
	}
	clip.Filename = "recording.mp4"
	clip.ContentType = "audio/mp4"
	return clip
}

type whisperResponse struct {
	Text string `json:"text"`
}

func (t *Transcriber) upload(ctx context.Context, clip Clip) (string, int, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", clip.Filename)
	if err != nil {
		return "", 0, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(clip.Bytes); err != nil {
		return "", 0, fmt.Errorf("write audio: %w", err)
	}
	if err := w.WriteField("model", t.model); err != nil {
		return "", 0, fmt.Errorf("write model field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", 0, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", resp.StatusCode, nil
	}

	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return out.Text, resp.StatusCode, nil
}
