// Package server exposes the chat service over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/chat"
)

// Server is the HTTP front of the chat service.
type Server struct {
	echo     *echo.Echo
	service  *chat.Service
	logger   *slog.Logger
	maxConns int
}

// New creates the server and registers all routes. maxConns bounds the
// number of concurrently accepted connections; zero means unlimited.
func New(service *chat.Service, logger *slog.Logger, maxConns int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		service:  service,
		logger:   logger,
		maxConns: maxConns,
	}

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/chat", s.handleChat)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.DELETE("/sessions/:id", s.handleDeleteSession)
	api.GET("/sessions/:id/context", s.handleGetContext)
	api.PUT("/sessions/:id/context", s.handleUpdateContext)
	api.DELETE("/sessions/:id/context", s.handleClearContext)

	e.GET("/ws", s.handleWebSocket)

	return s
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	s.echo.Listener = ln

	s.logger.Info("server listening", "addr", ln.Addr().String())
	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the route tree as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(c echo.Context) error {
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	resp, err := s.service.Handle(c.Request().Context(), req)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListSessions(c echo.Context) error {
	summaries, err := s.service.Sessions(c.Request().Context())
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.service.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	if err := s.service.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetContext(c echo.Context) error {
	state, err := s.service.SessionState(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"context": state})
}

func (s *Server) handleUpdateContext(c echo.Context) error {
	var fields bankchat.Fields
	if err := c.Bind(&fields); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := s.service.UpdateSessionState(c.Request().Context(), c.Param("id"), fields); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleClearContext(c echo.Context) error {
	if err := s.service.ClearSessionState(c.Request().Context(), c.Param("id")); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) mapError(err error) error {
	if errors.Is(err, bankchat.ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return echo.NewHTTPError(http.StatusRequestTimeout, "request cancelled")
	}
	s.logger.Error("request failed", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
