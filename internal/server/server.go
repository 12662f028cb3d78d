// Package server exposes the turn engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/easeaico/her-engine/internal/engine"
	"github.com/easeaico/her-engine/internal/ledger"
	"github.com/easeaico/her-engine/internal/types"
)

// HeaderUserID carries the authenticated caller. Authentication itself happens upstream.
const HeaderUserID = "X-User-ID"

// Engine is the part of the controller the HTTP surface needs.
type Engine interface {
	OpenDialog(ctx context.Context, userID, characterID, storyID string) (types.Dialog, error)
	ProcessTurn(ctx context.Context, req engine.TurnRequest) (*engine.TurnResult, error)
	Cancel(ctx context.Context, userID, dialogID string) error
	Reset(ctx context.Context, userID, dialogID string) error
}

// Server routes requests to the engine and serializes turns per dialog.
type Server struct {
	engine Engine
	echo   *echo.Echo
	locks  *dialogLocks
}

// New builds the router.
func New(e Engine) *Server {
	s := &Server{
		engine: e,
		echo:   echo.New(),
		locks:  newDialogLocks(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.GET("/healthz", s.health)
	v1 := s.echo.Group("/v1", requireUser)
	v1.POST("/dialogs", s.openDialog)
	v1.POST("/dialogs/:id/messages", s.handleMessage)
	v1.POST("/dialogs/:id/cancel", s.cancel)
	v1.POST("/dialogs/:id/reset", s.reset)
	return s
}

// Handler returns the HTTP handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	slog.Info("http server starting", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight turns.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if strings.TrimSpace(c.Request().Header.Get(HeaderUserID)) == "" {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: "missing " + HeaderUserID + " header"})
		}
		return next(c)
	}
}

func userID(c echo.Context) string {
	return strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type openDialogRequest struct {
	CharacterID string `json:"character_id"`
	StoryID     string `json:"story_id"`
}

func (s *Server) openDialog(c echo.Context) error {
	var req openDialogRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}
	if req.CharacterID == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "character_id is required"})
	}
	dialog, err := s.engine.OpenDialog(c.Request().Context(), userID(c), req.CharacterID, req.StoryID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, dialog)
}

type messageRequest struct {
	Text       string `json:"text"`
	Regenerate bool   `json:"regenerate"`
	Stream     bool   `json:"stream"`
}

// handleMessage runs one turn. With stream=true (or Accept: text/event-stream) the reply is
// sent as server-sent events: "partial" snapshots, then "done" with the full result.
func (s *Server) handleMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}
	dialogID := c.Param("id")
	turn := engine.TurnRequest{
		DialogID:   dialogID,
		UserID:     userID(c),
		Text:       req.Text,
		Regenerate: req.Regenerate,
	}

	unlock := s.locks.lock(dialogID)
	defer unlock()

	if req.Stream || strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream") {
		return s.stream(c, turn)
	}

	result, err := s.engine.ProcessTurn(c.Request().Context(), turn)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) stream(c echo.Context, turn engine.TurnRequest) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	var mu sync.Mutex
	send := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Error("failed to encode event", "event", event, "error", err.Error())
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, data)
		res.Flush()
	}

	turn.OnPartial = func(text string) {
		send("partial", map[string]string{"text": text})
	}
	result, err := s.engine.ProcessTurn(c.Request().Context(), turn)
	if err != nil {
		status, body := errorResponse(err)
		slog.Warn("streamed turn failed", "dialog_id", turn.DialogID, "status", status, "error", err.Error())
		send("error", body)
		return nil
	}
	send("done", result)
	return nil
}

func (s *Server) cancel(c echo.Context) error {
	// not serialized: an in-flight turn finishes, later turns are refused
	if err := s.engine.Cancel(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reset(c echo.Context) error {
	dialogID := c.Param("id")
	unlock := s.locks.lock(dialogID)
	defer unlock()

	if err := s.engine.Reset(c.Request().Context(), userID(c), dialogID); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Used  int    `json:"used,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func writeError(c echo.Context, err error) error {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Path(), "status", status, "error", err.Error())
	}
	return c.JSON(status, body)
}

func errorResponse(err error) (int, errorBody) {
	var quota *ledger.QuotaError
	switch {
	case errors.As(err, &quota):
		return http.StatusTooManyRequests, errorBody{Error: err.Error(), Code: "quota_exceeded", Used: quota.Used, Limit: quota.Limit}
	case errors.Is(err, engine.ErrDialogNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "dialog_not_found"}
	case errors.Is(err, engine.ErrCharacterNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "character_not_found"}
	case errors.Is(err, engine.ErrStoryNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "story_not_found"}
	case errors.Is(err, engine.ErrDialogClosed):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "dialog_cancelled"}
	case errors.Is(err, engine.ErrNothingToRetry):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "nothing_to_retry"}
	case errors.Is(err, engine.ErrEmptyMessage):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "empty_message"}
	case errors.Is(err, engine.ErrNoPersonaVersion):
		return http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "no_persona_version"}
	case errors.Is(err, engine.ErrModelCall):
		return http.StatusBadGateway, errorBody{Error: "model call failed", Code: "model_error"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

// dialogLocks hands out one mutex per dialog and drops it when nobody waits.
type dialogLocks struct {
	mu    sync.Mutex
	locks map[string]*dialogLock
}

type dialogLock struct {
	mu   sync.Mutex
	refs int
}

func newDialogLocks() *dialogLocks {
	return &dialogLocks{locks: make(map[string]*dialogLock)}
}

func (l *dialogLocks) lock(dialogID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[dialogID]
	if !ok {
		entry = &dialogLock{}
		l.locks[dialogID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, dialogID)
		}
		l.mu.Unlock()
	}
}
