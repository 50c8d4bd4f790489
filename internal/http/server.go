package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Options collects the settings of the HTTP layer.
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	// JWT is nil when the API is open.
	JWT *JWTConfig
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to an http.Server.
type Server struct {
	Advice Advisor
	Notes  NoteProvider
	Events EventSource
	Logger zerolog.Logger

	echo *echo.Echo
}

// NewServer wires the routes.  events may be nil, in which case
// GET /notes/events is not served.
func NewServer(advice Advisor, notes NoteProvider, events EventSource, logger zerolog.Logger, opts Options) *Server {
	s := &Server{
		Advice: advice,
		Notes:  notes,
		Events: events,
		Logger: logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(Recovery(logger))
	e.Use(RequestID())
	e.Use(Logger(logger))

	e.GET("/healthz", s.handleHealth)

	var auth []echo.MiddlewareFunc
	if opts.JWT != nil {
		auth = append(auth, JWTAuth(*opts.JWT))
	}
	limited := append(auth, RateLimit(opts.RateLimitRPS, opts.RateLimitBurst))
	e.POST("/advice", s.handleAdvice, limited...)
	e.GET("/notes", s.handleNotes, limited...)
	if events != nil {
		e.GET("/notes/events", s.handleEvents, auth...)
	}

	s.echo = e
	return s
}

// ServeHTTP dispatches to the echo router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
