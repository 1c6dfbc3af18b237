package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohtashammurshid/jarvisd/internal/auth"
	"github.com/mohtashammurshid/jarvisd/internal/llm"
	"github.com/mohtashammurshid/jarvisd/internal/orchestrator"
	"github.com/mohtashammurshid/jarvisd/internal/speech"
	"github.com/mohtashammurshid/jarvisd/internal/tools"
)

type fakeProvider struct {
	response *llm.ChatResponse
	err      error
	calls    int32
}

func (f *fakeProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.response, f.err
}

func (f *fakeProvider) Name() string    { return "fake" }
func (f *fakeProvider) Available() bool { return true }

type fakeSynth struct {
	audio *speech.Audio
	err   error
}

func (f *fakeSynth) Name() string    { return "fake-synth" }
func (f *fakeSynth) Available() bool { return true }
func (f *fakeSynth) Synthesize(ctx context.Context, text string) (*speech.Audio, error) {
	return f.audio, f.err
}

type testEnv struct {
	server   *Server
	provider *fakeProvider
	token    string
}

func newTestEnv(t *testing.T, synth speech.Synthesizer) *testEnv {
	t.Helper()

	provider := &fakeProvider{response: &llm.ChatResponse{Content: "At your service.", Model: "test-model"}}
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.NewCreatorTool()))

	authSvc := auth.NewService(auth.Config{Password: "stark"})
	deps := Deps{
		Auth:         authSvc,
		Orchestrator: orchestrator.New(provider, registry, orchestrator.Config{StepBudget: 4}),
		Search:       tools.NewSearchTool("", 5, nil),
		Weather:      tools.NewWeatherTool(""),
		Speech:       speech.NewPipeline(synth),
		Transcriber:  speech.NewTranscriber("", ""),
	}
	srv := New(deps)

	tok, err := authSvc.Issue("stark")
	require.NoError(t, err)

	return &testEnv{server: srv, provider: provider, token: tok.Value}
}

func (env *testEnv) do(t *testing.T, method, path string, body []byte, authed bool, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if authed {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+env.token)
	}
	rec := httptest.NewRecorder()
	env.server.Echo().ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) postJSON(t *testing.T, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return env.do(t, http.MethodPost, path, payload, authed, echo.MIMEApplicationJSON)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, &fakeSynth{})

	rec := env.do(t, http.MethodGet, "/healthz", nil, false, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, &fakeSynth{})

	t.Run("valid password issues token", func(t *testing.T) {
		rec := env.postJSON(t, "/api/auth", map[string]string{"password": "stark"}, false)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp authResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Contains(t, resp.SessionToken, ".")
		assert.Equal(t, "Authentication successful", resp.Message)
	})

	t.Run("wrong password is 401", func(t *testing.T) {
		rec := env.postJSON(t, "/api/auth", map[string]string{"password": "ultron"}, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing password is 400", func(t *testing.T) {
		rec := env.postJSON(t, "/api/auth", map[string]string{}, false)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, &fakeSynth{})

	for _, path := range []string{"/api/chat", "/api/search", "/api/weather", "/api/speech", "/api/transcribe"} {
		rec := env.postJSON(t, path, map[string]string{}, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "path %s", path)
	}
}

func TestChat(t *testing.T) {
	t.Run("empty messages rejected before any model call", func(t *testing.T) {
		env := newTestEnv(t, &fakeSynth{})
		rec := env.postJSON(t, "/api/chat", chatRequest{}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.EqualValues(t, 0, env.provider.calls)
	})

	t.Run("valid conversation returns answer and usage", func(t *testing.T) {
		env := newTestEnv(t, &fakeSynth{})
		rec := env.postJSON(t, "/api/chat", chatRequest{
			Messages: []chatMessage{{Role: "user", Content: "hello"}},
		}, true)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp chatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "At your service.", resp.Response)
		require.NotNil(t, resp.ToolUsage)
		assert.Equal(t, 1, resp.ToolUsage.TotalSteps)
	})

	t.Run("history with a blank assistant turn is accepted", func(t *testing.T) {
		env := newTestEnv(t, &fakeSynth{})
		rec := env.postJSON(t, "/api/chat", chatRequest{
			Messages: []chatMessage{
				{Role: "user", Content: "run every diagnostic"},
				{Role: "assistant", Content: ""},
				{Role: "user", Content: "and the result?"},
			},
		}, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, env.provider.calls)
	})

	t.Run("provider failure still answers with apology", func(t *testing.T) {
		env := newTestEnv(t, &fakeSynth{})
		env.provider.err = errors.New("connection refused")
		rec := env.postJSON(t, "/api/chat", chatRequest{
			Messages: []chatMessage{{Role: "user", Content: "hello"}},
		}, true)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp chatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Response)
	})
}

func TestSearch_MissingQuery(t *testing.T) {
	env := newTestEnv(t, &fakeSynth{})
	rec := env.postJSON(t, "/api/search", searchRequest{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_UnconfiguredDegradesInBody(t *testing.T) {
	env := newTestEnv(t, &fakeSynth{})
	rec := env.postJSON(t, "/api/search", searchRequest{Query: "latest go release"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Response, "not configured")
}

func TestWeather_FallbackShape(t *testing.T) {
	env := newTestEnv(t, &fakeSynth{})
	rec := env.postJSON(t, "/api/weather", weatherRequest{Query: "Tokyo"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp fallbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Fallback)
	assert.NotEmpty(t, resp.Error)
	assert.NotEmpty(t, resp.Message)

	// Repeating the same failing request yields the identical shape.
	again := env.postJSON(t, "/api/weather", weatherRequest{Query: "Tokyo"}, true)
	require.Equal(t, http.StatusOK, again.Code)
	assert.JSONEq(t, rec.Body.String(), again.Body.String())
}

func TestWeather_MissingLocation(t *testing.T) {
	env := newTestEnv(t, &fakeSynth{})
	rec := env.postJSON(t, "/api/weather", weatherRequest{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpeech(t *testing.T) {
	t.Run("synthesized audio streams back", func(t *testing.T) {
		env := newTestEnv(t, &fakeSynth{audio: &speech.Audio{Bytes: []byte("mp3"), ContentType: "audio/mpeg"}})
		rec := env.postJSON(t, "/api/speech", speechRequest{Text: "Good evening."}, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "audio/mpeg", rec.Header().Get(echo.HeaderContentType))
		assert.Equal(t, "mp3", rec.Body.String())
	})

	t.Run("exhausted providers return fallback json", func(t *testing.T) {
		env := newTestEnv(t, &fakeSynth{err: errors.New("quota exceeded")})
		rec := env.postJSON(t, "/api/speech", speechRequest{Text: "Good evening."}, true)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp fallbackResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Fallback)
	})

	t.Run("blank text is 400", func(t *testing.T) {
		env := newTestEnv(t, &fakeSynth{})
		rec := env.postJSON(t, "/api/speech", speechRequest{Text: "   "}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTranscribe(t *testing.T) {
	multipartBody := func(t *testing.T, field string, payload []byte) ([]byte, string) {
		t.Helper()
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile(field, "clip.webm")
		require.NoError(t, err)
		_, err = part.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes(), w.FormDataContentType()
	}

	t.Run("missing file is 400", func(t *testing.T) {
		env := newTestEnv(t, &fakeSynth{})
		body, contentType := multipartBody(t, "wrong_field", []byte("x"))
		rec := env.do(t, http.MethodPost, "/api/transcribe", body, true, contentType)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("short clip falls back", func(t *testing.T) {
		env := newTestEnv(t, &fakeSynth{})
		body, contentType := multipartBody(t, "audio", make([]byte, 500))
		rec := env.do(t, http.MethodPost, "/api/transcribe", body, true, contentType)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp fallbackResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Fallback)
	})
}
