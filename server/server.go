// Package server wires the HTTP surface of jokebox: a health endpoint and
// the MCP streamable handler, behind recovery and rate limiting.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mirthlab/jokebox/internal/profile"
	"github.com/mirthlab/jokebox/server/middleware"
	"github.com/mirthlab/jokebox/server/retrieval"
	"github.com/mirthlab/jokebox/server/router/mcpserver"
	"github.com/mirthlab/jokebox/store"
)

// Server is the jokebox HTTP server.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
}

// NewServer creates the HTTP server and mounts all routes.
func NewServer(profile *profile.Profile, st *store.Store, engine *retrieval.Engine) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	rateLimiter := middleware.NewRateLimiter(10, 20)
	e.Use(rateLimiter.Middleware())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": profile.Version,
		})
	})

	mcpSrv := mcpserver.NewServer(engine, profile.Version)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpSrv
	}, nil)
	e.Any("/mcp", echo.WrapHandler(mcpHandler))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandler))

	return &Server{
		Profile:    profile,
		Store:      st,
		echoServer: e,
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down server gracefully", slog.String("error", err.Error()))
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", slog.String("error", err.Error()))
	}
}
