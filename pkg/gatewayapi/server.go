// Package gatewayapi is the turn orchestrator: the single HTTP entrypoint
// that authenticates a request, classifies the query, decides which gather
// layers to run, assembles a prompt, routes to a provider, and streams the
// completion back over SSE (§4.1). Built bind → validate → call → map like
// the memory service's own API layer, but the core handler is a direct
// streaming response rather than a submit-and-poll job, since a chat turn
// has no meaningful "accepted" state short of the tokens themselves.
package gatewayapi

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/tarsync/memoryplane/pkg/auth"
	"github.com/tarsync/memoryplane/pkg/cache"
	"github.com/tarsync/memoryplane/pkg/config"
	"github.com/tarsync/memoryplane/pkg/gatewaystore"
	"github.com/tarsync/memoryplane/pkg/ingestion"
	"github.com/tarsync/memoryplane/pkg/llm"
	"github.com/tarsync/memoryplane/pkg/memoryclient"
	"github.com/tarsync/memoryplane/pkg/promptbuilder"
	"github.com/tarsync/memoryplane/pkg/recall"
	"github.com/tarsync/memoryplane/pkg/research"
	"github.com/tarsync/memoryplane/pkg/runtime"
	"github.com/tarsync/memoryplane/pkg/tokencount"
)

// Server is the gateway's HTTP API.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	pool      *pgxpool.Pool
	cache     *cache.Cache
	verifier  *auth.Verifier
	limiter   *runtime.Runtime
	store     *gatewaystore.Store
	memClient *memoryclient.Client
	loader    *recall.Loader
	resolver  *recall.Resolver
	ingest    *ingestion.Store
	builder   *promptbuilder.Builder
	counter   *tokencount.Counter
	llmRouter *llm.Router
	injector  *research.Injector

	providers *config.ProvidersConfig
	timeouts  *config.TimeoutsConfig
	memoryCfg *config.MemoryConfig
	flags     *config.FlagsConfig
}

// Deps bundles everything NewServer needs, since the orchestrator has
// materially more collaborators than the other two services' API layers.
type Deps struct {
	Pool       *pgxpool.Pool
	Cache      *cache.Cache
	Verifier   *auth.Verifier
	Limiter    *runtime.Runtime
	Store      *gatewaystore.Store
	MemClient  *memoryclient.Client
	Loader     *recall.Loader
	Resolver   *recall.Resolver
	Ingest     *ingestion.Store
	Builder    *promptbuilder.Builder
	Counter    *tokencount.Counter
	LLMRouter  *llm.Router
	Injector   *research.Injector
	Providers  *config.ProvidersConfig
	Timeouts   *config.TimeoutsConfig
	MemoryCfg  *config.MemoryConfig
	Flags      *config.FlagsConfig
}

// NewServer wires the orchestrator's handlers onto a fresh Echo instance.
func NewServer(d Deps) *Server {
	s := &Server{
		pool:      d.Pool,
		cache:     d.Cache,
		verifier:  d.Verifier,
		limiter:   d.Limiter,
		store:     d.Store,
		memClient: d.MemClient,
		loader:    d.Loader,
		resolver:  d.Resolver,
		ingest:    d.Ingest,
		builder:   d.Builder,
		counter:   d.Counter,
		llmRouter: d.LLMRouter,
		injector:  d.Injector,
		providers: d.Providers,
		timeouts:  d.Timeouts,
		memoryCfg: d.MemoryCfg,
		flags:     d.Flags,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.POST("/chat", s.chat)
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
