// Command memoryservice runs the memory service's HTTP API: memory
// CRUD, hybrid recall, message-event ingestion driving the audit
// pipeline, and the decay/TTL scheduler.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tarsync/memoryplane/pkg/cache"
	"github.com/tarsync/memoryplane/pkg/config"
	"github.com/tarsync/memoryplane/pkg/database"
	"github.com/tarsync/memoryplane/pkg/llm"
	"github.com/tarsync/memoryplane/pkg/masking"
	"github.com/tarsync/memoryplane/pkg/memory"
	"github.com/tarsync/memoryplane/pkg/memoryapi"
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

	dbClient, err := database.NewClient(ctx, cfg.Database, database.SchemaMemory)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()

	redisCache, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisCache.Close()

	vectors, err := vectorstore.New(ctx, cfg.Qdrant, cfg.Qdrant.MemoryCollection)
	if err != nil {
		log.Fatalf("failed to connect to qdrant: %v", err)
	}
	defer vectors.Close()

	counter, err := tokencount.New()
	if err != nil {
		log.Fatalf("failed to initialize token counter: %v", err)
	}

	providers := buildProviders(cfg.Providers)
	llmRouter := llm.NewRouter(providers...)

	repo := memory.NewRepository(dbClient.Pool)
	messages := memory.NewMessageStore(dbClient.Pool)
	masker := masking.NewService()

	embedProvider, _ := findOpenAI(providers)
	var embedder memory.Embedder
	if embedProvider != nil {
		embedder = func(c context.Context, text string) ([]float32, error) {
			return embedProvider.Embed(c, cfg.Providers.Embedding.Model, text)
		}
	}
	engine := memory.NewEngine(repo, vectors, embedder, cfg.Providers.Embedding.Model)

	summaryProfile := defaultProfile(cfg.Providers)
	auditor := memory.NewAuditor(repo, messages, masker, llmRouter, counter, redisCache, cfg.Tiers, summaryProfile.Provider, summaryProfile.Model, engine)
	cadence := memory.NewCadenceTracker()

	scheduler := memory.NewScheduler(repo, cfg.Tiers)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := memoryapi.NewServer(dbClient.Pool, repo, engine, auditor, cadence, masker)

	go func() {
		slog.Info("memory service listening", "addr", cfg.Server.Addr)
		if err := server.Start(cfg.Server.Addr); err != nil {
			slog.Error("memory service stopped", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down memory service")
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

func defaultProfile(cfg *config.ProvidersConfig) config.ProviderProfile {
	if cfg == nil {
		return config.ProviderProfile{Provider: "openai", Model: "gpt-4o-mini", MaxTokensCap: 512}
	}
	for _, p := range cfg.Profiles {
		return p
	}
	return config.ProviderProfile{Provider: "openai", Model: "gpt-4o-mini", MaxTokensCap: 512}
}

func findOpenAI(providers []llm.Provider) (*llm.OpenAIProvider, bool) {
	for _, p := range providers {
		if op, ok := p.(*llm.OpenAIProvider); ok {
			return op, true
		}
	}
	return nil, false
}
