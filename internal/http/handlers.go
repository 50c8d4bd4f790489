package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"patient-summary-agent/internal/config"
	"patient-summary-agent/internal/dataset"
	"patient-summary-agent/pkg"
)

const (
	defaultPage = 1
	defaultSize = 10
)

// Advisor produces advice for a care plan summary.
type Advisor interface {
	Advise(ctx context.Context, requestID string, summary *pkg.PatientSummary) (string, error)
}

// NoteProvider serves pages of SOAP notes.
type NoteProvider interface {
	Total(ctx context.Context) (int, error)
	Page(ctx context.Context, page, size int) ([]string, error)
	CachedPages(ctx context.Context) (int, error)
}

// EventSource streams page-ready events.
type EventSource interface {
	Listen(ctx context.Context) (<-chan pkg.PageEvent, error)
}

// handleAdvice turns the posted care plan summary into advice.
func (s *Server) handleAdvice(c echo.Context) error {
	var req pkg.AdviceRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid JSON body: "+err.Error())
	}
	if req.Summary == nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "summary is required")
	}

	advice, err := s.Advice.Advise(c.Request().Context(), requestID(c), req.Summary)
	if err != nil {
		s.Logger.Error().Err(err).Str("request_id", requestID(c)).Msg("advice generation failed")
		return echo.NewHTTPError(http.StatusBadGateway, "failed to generate advice")
	}
	return c.JSON(http.StatusOK, pkg.AdviceResponse{Advice: advice})
}

// handleNotes returns one page of SOAP notes: GET /notes?page=1&size=10.
func (s *Server) handleNotes(c echo.Context) error {
	page, err := intParam(c, "page", defaultPage)
	if err != nil {
		return err
	}
	size, err := intParam(c, "size", defaultSize)
	if err != nil {
		return err
	}
	if page < 1 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "page must be at least 1")
	}
	if size < 1 || size > config.MaxPageSize {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("size must be between 1 and %d", config.MaxPageSize))
	}

	ctx := c.Request().Context()
	total, err := s.Notes.Total(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("failed to count conversations")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read conversations")
	}
	notes, err := s.Notes.Page(ctx, page, size)
	if err != nil {
		if errors.Is(err, dataset.ErrInvalidPage) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		if errors.Is(err, dataset.ErrUnreadable) {
			s.Logger.Error().Err(err).Int("page", page).Int("size", size).Str("request_id", requestID(c)).Msg("failed to read conversations")
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to read conversations")
		}
		s.Logger.Error().Err(err).Int("page", page).Int("size", size).Str("request_id", requestID(c)).Msg("soap note generation failed")
		return echo.NewHTTPError(http.StatusBadGateway, "failed to generate notes")
	}
	return c.JSON(http.StatusOK, pkg.NotesResponse{
		Page:  page,
		Size:  size,
		Total: total,
		Notes: notes,
	})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusUnprocessableEntity, name+" must be an integer")
	}
	return v, nil
}

// handleHealth reports liveness plus a few cache figures.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	resp := map[string]interface{}{"status": "ok"}
	if n, err := s.Notes.CachedPages(ctx); err == nil {
		resp["cached_pages"] = n
	} else {
		resp["status"] = "degraded"
		resp["cache_error"] = err.Error()
	}
	if total, err := s.Notes.Total(ctx); err == nil {
		resp["total"] = total
	}
	return c.JSON(http.StatusOK, resp)
}

// handleEvents streams page-ready events using SSE until the client goes
// away.
func (s *Server) handleEvents(c echo.Context) error {
	ctx := c.Request().Context()
	events, err := s.Events.Listen(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("failed to subscribe to page events")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(w, ev); err != nil {
				s.Logger.Debug().Err(err).Msg("event stream closed")
				return nil
			}
			w.Flush()
		}
	}
}

// writeEvent writes a page_ready event with the JSON payload after the
// "data:" prefix.
func writeEvent(w io.Writer, ev pkg.PageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "event: page_ready\ndata: "+string(data)+"\n\n")
	return err
}

// errorHandler renders every error as {"error": "..."}.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		}
		if err := c.JSON(code, pkg.ErrorResponse{Error: msg}); err != nil {
			logger.Warn().Err(err).Msg("failed to write error response")
		}
	}
}
