// Command gateway runs the turn orchestrator: authentication, gather-layer
// fan-out, prompt assembly, provider routing, and SSE streaming for every
// chat turn (§4.1).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tarsync/memoryplane/pkg/auth"
	"github.com/tarsync/memoryplane/pkg/cache"
	"github.com/tarsync/memoryplane/pkg/config"
	"github.com/tarsync/memoryplane/pkg/database"
	"github.com/tarsync/memoryplane/pkg/gatewayapi"
	"github.com/tarsync/memoryplane/pkg/gatewaystore"
	"github.com/tarsync/memoryplane/pkg/ingestion"
	"github.com/tarsync/memoryplane/pkg/llm"
	"github.com/tarsync/memoryplane/pkg/memoryclient"
	"github.com/tarsync/memoryplane/pkg/promptbuilder"
	"github.com/tarsync/memoryplane/pkg/recall"
	"github.com/tarsync/memoryplane/pkg/research"
	"github.com/tarsync/memoryplane/pkg/runtime"
	"github.com/tarsync/memoryplane/pkg/telemetry"
	"github.com/tarsync/memoryplane/pkg/tokencount"
	"github.com/tarsync/memoryplane/pkg/vectorstore"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	telProvider, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}
	defer telProvider.Shutdown(context.Background())

	dbClient, err := database.NewClient(ctx, cfg.Database, database.SchemaGateway)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()

	redisCache, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisCache.Close()

	counter, err := tokencount.New()
	if err != nil {
		log.Fatalf("failed to initialize token counter: %v", err)
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatalf("failed to build auth verifier: %v", err)
	}

	loader, err := recall.NewLoader(dbClient.Pool)
	if err != nil {
		log.Fatalf("failed to build recall loader: %v", err)
	}

	providers := buildProviders(cfg.Providers)
	llmRouter := llm.NewRouter(providers...)

	// The resolver needs the same conversation-vector collection the recall
	// worker's embedding job writes into, to pick a target thread for
	// semantic triggers (§4.4). A connection failure here degrades to
	// resume/historical-only resolution rather than failing gateway startup,
	// since semantic cross-thread recall is a convenience, not the critical
	// chat path.
	var resolver *recall.Resolver
	gatewayStore := gatewaystore.New(dbClient.Pool)
	if conversationVectors, vecErr := vectorstore.New(ctx, cfg.Qdrant, cfg.Qdrant.ConversationCollect); vecErr != nil {
		slog.Warn("conversation vector store unavailable, semantic recall trigger disabled", "error", vecErr)
		resolver = recall.NewResolver(gatewayStore, nil, nil, "")
	} else {
		embedProvider, _ := findOpenAI(providers)
		var embed recall.Embedder
		if embedProvider != nil {
			embed = embedProvider.Embed
		}
		resolver = recall.NewResolver(gatewayStore, conversationVectors, embed, cfg.Providers.Embedding.Model)
	}

	server := gatewayapi.NewServer(gatewayapi.Deps{
		Pool:      dbClient.Pool,
		Cache:     redisCache,
		Verifier:  verifier,
		Limiter:   runtime.New(cfg.Auth),
		Store:     gatewayStore,
		MemClient: memoryclient.New(cfg.Server.MemoryServiceURL, cfg.Server.InternalServiceHeader),
		Loader:    loader,
		Resolver:  resolver,
		Ingest:    ingestion.New(redisCache),
		Builder:   promptbuilder.New(counter),
		Counter:   counter,
		LLMRouter: llmRouter,
		Injector:  research.NewInjector(redisCache),
		Providers: cfg.Providers,
		Timeouts:  cfg.Timeouts,
		MemoryCfg: cfg.Memory,
		Flags:     cfg.Flags,
	})

	go func() {
		slog.Info("gateway listening", "addr", cfg.Server.Addr)
		if err := server.Start(cfg.Server.Addr); err != nil {
			slog.Error("gateway stopped", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

func buildProviders(cfg *config.ProvidersConfig) []llm.Provider {
	var out []llm.Provider
	if cfg == nil {
		return out
	}
	for _, profile := range cfg.Profiles {
		switch profile.Provider {
		case "anthropic":
			out = append(out, llm.NewAnthropicProvider(os.Getenv("ANTHROPIC_API_KEY")))
		case "openai":
			out = append(out, llm.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY")))
		case "google":
			if p, err := llm.NewGenAIProvider(context.Background(), os.Getenv("GOOGLE_API_KEY")); err == nil {
				out = append(out, p)
			}
		}
	}
	return out
}

func findOpenAI(providers []llm.Provider) (*llm.OpenAIProvider, bool) {
	for _, p := range providers {
		if op, ok := p.(*llm.OpenAIProvider); ok {
			return op, true
		}
	}
	return nil, false
}
