// Command recallworker runs the unlimited-recall background job pool:
// label, summary, embedding, audit, and research jobs claimed from
// recall_jobs, plus the LISTEN/NOTIFY wakeup and the message-retention
// sweep.
package main

import (
	"context"
	"flag"
	"fmt"
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
	"github.com/tarsync/memoryplane/pkg/models"
	"github.com/tarsync/memoryplane/pkg/recall"
	"github.com/tarsync/memoryplane/pkg/research"
	"github.com/tarsync/memoryplane/pkg/retention"
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

func dsnFrom(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	podID := flag.String("pod-id", getEnv("POD_ID", "recallworker-0"), "identifier used for job-claim attribution")
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

	conversationVectors, err := vectorstore.New(ctx, cfg.Qdrant, cfg.Qdrant.ConversationCollect)
	if err != nil {
		log.Fatalf("failed to connect to qdrant: %v", err)
	}
	defer conversationVectors.Close()

	memoryVectors, err := vectorstore.New(ctx, cfg.Qdrant, cfg.Qdrant.MemoryCollection)
	if err != nil {
		log.Fatalf("failed to connect to qdrant: %v", err)
	}
	defer memoryVectors.Close()

	counter, err := tokencount.New()
	if err != nil {
		log.Fatalf("failed to initialize token counter: %v", err)
	}

	providers := buildProviders(cfg.Providers)
	llmRouter := llm.NewRouter(providers...)
	summaryProfile := defaultProfile(cfg.Providers)

	repo := memory.NewRepository(dbClient.Pool)
	messages := memory.NewMessageStore(dbClient.Pool)
	masker := masking.NewService()

	embedProvider, _ := findOpenAI(providers)
	var embed recall.Embedder
	var memEmbed memory.Embedder
	if embedProvider != nil {
		embed = embedProvider.Embed
		memEmbed = func(c context.Context, text string) ([]float32, error) {
			return embedProvider.Embed(c, cfg.Providers.Embedding.Model, text)
		}
	}
	memEngine := memory.NewEngine(repo, memoryVectors, memEmbed, cfg.Providers.Embedding.Model)
	auditor := memory.NewAuditor(repo, messages, masker, llmRouter, counter, redisCache, cfg.Tiers, summaryProfile.Provider, summaryProfile.Model, memEngine)

	fetcher := research.NewFetcher()
	publisher := research.NewPublisher(redisCache)

	handlers := map[models.JobType]recall.Handler{
		models.JobLabel:     recall.LabelHandler(dbClient.Pool, llmRouter, summaryProfile.Provider, summaryProfile.Model),
		models.JobSummary:   recall.SummaryHandler(dbClient.Pool, llmRouter, summaryProfile.Provider, summaryProfile.Model),
		models.JobEmbedding: recall.EmbeddingHandler(dbClient.Pool, conversationVectors, embed, cfg.Providers.Embedding.Model),
		models.JobAudit:     recall.AuditHandler(auditor),
		models.JobResearch:  recall.ResearchHandler(fetcher, publisher),
	}

	notifier := recall.NewJobNotifier(dsnFrom(cfg.Database))
	go notifier.Run(ctx)

	workerCfg := recall.DefaultWorkerConfig()
	pool := recall.NewWorkerPool(*podID, dbClient.Pool, workerCfg, notifier, handlers)
	pool.Start(ctx)

	retentionSvc := retention.NewService(dbClient.Pool, cfg.Retention)
	retentionSvc.Start(ctx)

	slog.Info("recall worker running", "pod_id", *podID, "workers", workerCfg.WorkerCount)

	<-ctx.Done()
	slog.Info("shutting down recall worker")
	pool.Stop()
	retentionSvc.Stop()
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
