// Package server exposes the HTTP API: the auth gate, the chat loop, the
// direct tool routes, and the speech endpoints.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mohtashammurshid/jarvisd/internal/auth"
	"github.com/mohtashammurshid/jarvisd/internal/history"
	"github.com/mohtashammurshid/jarvisd/internal/logging"
	"github.com/mohtashammurshid/jarvisd/internal/orchestrator"
	"github.com/mohtashammurshid/jarvisd/internal/speech"
	"github.com/mohtashammurshid/jarvisd/internal/tools"
)

// Deps are the wired collaborators the handlers dispatch to. History is
// optional; everything else must be set.
type Deps struct {
	Auth         *auth.Service
	Orchestrator *orchestrator.Orchestrator
	Search       *tools.SearchTool
	Weather      *tools.WeatherTool
	Speech       *speech.Pipeline
	Transcriber  *speech.Transcriber
	History      *history.Store
}

// Server is the echo HTTP server.
type Server struct {
	echo *echo.Echo
	deps Deps
	log  zerolog.Logger
}

func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo: e,
		deps: deps,
		log:  logging.WithComponent("server"),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(s.requestLogger())

	e.GET("/healthz", s.handleHealthz)

	api := e.Group("/api")
	api.POST("/auth", s.handleAuth)

	protected := api.Group("", auth.Middleware(deps.Auth))
	protected.POST("/chat", s.handleChat)
	protected.POST("/search", s.handleSearch)
	protected.POST("/weather", s.handleWeather)
	protected.POST("/speech", s.handleSpeech)
	protected.POST("/transcribe", s.handleTranscribe)

	return s
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start blocks serving HTTP on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.log.Info().Str("addr", addr).Msg("http server listening")
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.log.Info().
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Msg("request")
			return err
		}
	}
}
