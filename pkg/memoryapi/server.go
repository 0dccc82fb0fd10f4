// Package memoryapi exposes the memory service's seven public operations
// (§4.2) over HTTP, bind → validate → call → map-error, the same shape
// this codebase's other API layers use.
package memoryapi

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/tarsync/memoryplane/pkg/masking"
	"github.com/tarsync/memoryplane/pkg/memory"
)

// Server is the memory service's HTTP API.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	pool       *pgxpool.Pool
	repo       *memory.Repository
	engine     *memory.Engine
	auditor    *memory.Auditor
	cadence    *memory.CadenceTracker
	masker     *masking.Service
}

// NewServer wires handlers onto a fresh Echo instance.
func NewServer(pool *pgxpool.Pool, repo *memory.Repository, engine *memory.Engine, auditor *memory.Auditor, cadence *memory.CadenceTracker, masker *masking.Service) *Server {
	s := &Server{pool: pool, repo: repo, engine: engine, auditor: auditor, cadence: cadence, masker: masker}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.POST("/memories", s.createMemory)
	e.GET("/memories", s.listMemories)
	e.PATCH("/memories/:id", s.patchMemory)
	e.GET("/recall", s.recall)
	e.POST("/events/message", s.recordMessageEvent)
	e.GET("/conversations", s.listConversations)
	e.GET("/profile", s.getProfile)
	e.GET("/healthz", s.healthz)

	s.echo = e
	return s
}

// Start serves HTTP on addr until the process is stopped.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthz(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
