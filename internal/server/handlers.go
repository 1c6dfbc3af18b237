package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohtashammurshid/jarvisd/internal/auth"
	"github.com/mohtashammurshid/jarvisd/internal/history"
	"github.com/mohtashammurshid/jarvisd/internal/llm"
	"github.com/mohtashammurshid/jarvisd/internal/orchestrator"
	"github.com/mohtashammurshid/jarvisd/internal/speech"
	"github.com/mohtashammurshid/jarvisd/internal/tools"
)

// ───────────────────────────────────────────────────────────────────────────
// Request / response shapes
// ───────────────────────────────────────────────────────────────────────────

type authRequest struct {
	Password string `json:"password"`
}

type authResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"sessionToken"`
	Message      string `json:"message"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatToolUsage struct {
	ToolCalls  []chatToolCall `json:"toolCalls"`
	TotalSteps int            `json:"totalSteps"`
}

type chatToolCall struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

type chatResponse struct {
	Response  string         `json:"response"`
	ToolUsage *chatToolUsage `json:"toolUsage,omitempty"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Response string               `json:"response"`
	Sources  []tools.SearchSource `json:"sources"`
	Error    string               `json:"error,omitempty"`
}

type weatherRequest struct {
	Query string `json:"query"`
	Type  string `json:"type"`
}

type weatherResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Formatted string      `json:"formatted,omitempty"`
	Type      string      `json:"type,omitempty"`
}

type speechRequest struct {
	Text string `json:"text"`
}

type fallbackResponse struct {
	Fallback bool   `json:"fallback"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

type transcribeResponse struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ───────────────────────────────────────────────────────────────────────────
// Handlers
// ───────────────────────────────────────────────────────────────────────────

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAuth(c echo.Context) error {
	var req authRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.Password == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Password is required"})
	}

	tok, err := s.deps.Auth.Issue(req.Password)
	switch {
	case errors.Is(err, auth.ErrNotConfigured):
		s.log.Error().Msg("no password configured, refusing authentication")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Authentication system not configured"})
	case errors.Is(err, auth.ErrInvalidPassword):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Invalid password"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Authentication failed"})
	}

	return c.JSON(http.StatusOK, authResponse{
		Success:      true,
		SessionToken: tok.Value,
		Message:      "Authentication successful",
	})
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Messages are required"})
	}

	// Blank content is allowed; a turn that exhausted its tool budget can
	// legitimately carry an empty assistant message.
	messages := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	result := s.deps.Orchestrator.Run(c.Request().Context(), messages)
	s.recordTurn(req.Messages, result.Answer, result.Model, result.Degraded, result.Usage.ToolCalls)

	resp := chatResponse{Response: result.Answer}
	if result.Usage.TotalSteps > 0 {
		usage := &chatToolUsage{TotalSteps: result.Usage.TotalSteps}
		for _, call := range result.Usage.ToolCalls {
			usage.ToolCalls = append(usage.ToolCalls, chatToolCall{Tool: call.Tool, Args: call.Args})
		}
		resp.ToolUsage = usage
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Query is required"})
	}

	answer, err := s.deps.Search.Answer(c.Request().Context(), query)
	if err != nil {
		return c.JSON(http.StatusOK, searchResponse{
			Response: "The web search service is temporarily unavailable. Please try again in a moment.",
			Error:    err.Error(),
		})
	}
	return c.JSON(http.StatusOK, searchResponse{Response: answer.Answer, Sources: answer.Sources})
}

func (s *Server) handleWeather(c echo.Context) error {
	var req weatherRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Location is required"})
	}

	report, err := s.deps.Weather.Report(c.Request().Context(), query, req.Type)
	if err != nil {
		return c.JSON(http.StatusOK, fallbackResponse{
			Fallback: true,
			Error:    err.Error(),
			Message:  "Weather data is unavailable right now.",
		})
	}
	return c.JSON(http.StatusOK, weatherResponse{
		Success:   true,
		Data:      report.Data,
		Formatted: report.Formatted,
		Type:      report.Type,
	})
}

func (s *Server) handleSpeech(c echo.Context) error {
	var req speechRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Text is required"})
	}

	out := s.deps.Speech.Synthesize(c.Request().Context(), req.Text)
	if out.Fallback {
		return c.JSON(http.StatusOK, fallbackResponse{
			Fallback: true,
			Error:    "speech synthesis unavailable",
			Message:  out.Message,
		})
	}
	return c.Blob(http.StatusOK, out.Audio.ContentType, out.Audio.Bytes)
}

func (s *Server) handleTranscribe(c echo.Context) error {
	file, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "No audio file provided"})
	}

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "No audio file provided"})
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read audio"})
	}

	clip := speech.Clip{
		Bytes:       data,
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
	}
	out, err := s.deps.Transcriber.Transcribe(c.Request().Context(), clip)
	if errors.Is(err, speech.ErrNoAudio) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "No audio file provided"})
	}
	if err != nil {
		s.log.Error().Err(err).Msg("transcription failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "transcription failed"})
	}
	if out.Fallback {
		return c.JSON(http.StatusOK, fallbackResponse{
			Fallback: true,
			Error:    "transcription unavailable",
			Message:  out.Message,
		})
	}
	return c.JSON(http.StatusOK, transcribeResponse{Transcript: out.Transcript, Confidence: out.Confidence})
}

// recordTurn appends the exchange to the transcript log. Failures are logged
// and dropped; the response never waits on the store.
func (s *Server) recordTurn(messages []chatMessage, answer, model string, degraded bool, calls []orchestrator.ToolCallRecord) {
	if s.deps.History == nil {
		return
	}

	userText := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			userText = messages[i].Content
			break
		}
	}

	names := make([]string, 0, len(calls))
	for _, call := range calls {
		names = append(names, call.Tool)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := s.deps.History.Append(ctx, &history.Entry{
			UserText: userText,
			Answer:   answer,
			Tools:    strings.Join(names, ","),
			Model:    model,
			Degraded: degraded,
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to record transcript entry")
		}
	}()
}
