package config

import "time"

// ProvidersConfig lists the routed LLM provider profiles used by the
// model router (§4.9) plus the embedding model passed to llm.OpenAIProvider.Embed.
type ProvidersConfig struct {
	Profiles  map[string]ProviderProfile `yaml:"profiles"`
	Embedding EmbeddingProviderConfig    `yaml:"embedding"`
}

// ProviderProfile names one (provider, model) pair and its hard token cap.
type ProviderProfile struct {
	Provider     string `yaml:"provider" validate:"required,oneof=anthropic openai google"`
	Model        string `yaml:"model" validate:"required"`
	MaxTokensCap int    `yaml:"max_tokens_cap" validate:"required,min=1"`
}

// EmbeddingProviderConfig configures the embeddings backend (openai-go/v2).
type EmbeddingProviderConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// RouterConfig implements the §4.9/§6 router.* configuration knobs.
type RouterConfig struct {
	KeepLastTurns   int `yaml:"keep_last_turns"`
	MaxInputTokens  int `yaml:"max_input_tokens"`
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// TimeoutsConfig implements §6 timeouts.* plus the per-layer gather
// deadlines named in §4.1 step 3 (D_ctx, D_search, D_ingest).
type TimeoutsConfig struct {
	SoftMs     int           `yaml:"soft_ms"`
	HardMs     int           `yaml:"hard_ms"`
	TTFBSoftMs int           `yaml:"ttfb_soft_ms"`
	ContextGather time.Duration `yaml:"context_gather"` // D_ctx
	WebSearch     time.Duration `yaml:"web_search"`     // D_search
	Ingestion     time.Duration `yaml:"ingestion"`      // D_ingest
}

// FlagsConfig implements §6 flags.*.
type FlagsConfig struct {
	FR            bool `yaml:"fr"`
	RAG           bool `yaml:"rag"`
	HybridRAG     bool `yaml:"hybrid_rag"`
	Search        bool `yaml:"search"`
	MemoryEvents  bool `yaml:"memory_events"`
}

// MemoryConfig implements §6 memory.* — cadence, save thresholds, and the
// async-recall deadline/maxItems pair.
type MemoryConfig struct {
	Cadence     CadenceConfig     `yaml:"cadence"`
	Thresholds  ThresholdsConfig  `yaml:"thresholds"`
	AsyncRecall AsyncRecallConfig `yaml:"async_recall"`
}

// CadenceConfig is the §4.2.1 audit trigger policy.
type CadenceConfig struct {
	Msgs        int           `yaml:"msgs"`
	Tokens      int           `yaml:"tokens"`
	Minutes     int           `yaml:"minutes"`
	DebounceSec int           `yaml:"debounce_sec"`
}

// ThresholdsConfig is the §4.2.1 step 3 global save/high score thresholds
// plus the per-audit save cap. Per-tier thresholds live in
// TierConfig.SaveThreshold.
type ThresholdsConfig struct {
	Save       float64 `yaml:"save"`
	High       float64 `yaml:"high"`
	MaxPerAudit int    `yaml:"max_per_audit"`
}

// AsyncRecallConfig is the §4.3 recall deadline/maxItems pair.
type AsyncRecallConfig struct {
	DeadlineMs int `yaml:"deadline_ms"`
	MaxItems   int `yaml:"max_items"`
}

// TiersConfig holds the §4.2.3 per-tier weights/threshold/TTL/decay table.
type TiersConfig struct {
	T1 TierConfig `yaml:"t1"`
	T2 TierConfig `yaml:"t2"`
	T3 TierConfig `yaml:"t3"`
}

// TierConfig is one row of the §4.2.3 lifecycle table plus the §4.2.1 step 2
// scoring weights for that tier.
type TierConfig struct {
	ScoreWeights  ScoreWeights  `yaml:"score_weights"`
	SaveThreshold float64       `yaml:"save_threshold"`
	TTLDays       int           `yaml:"ttl_days"`
	DecayPerWeek  float64       `yaml:"decay_per_week"`
}

// ScoreWeights is the Q = w1*relevance + w2*importance + w3*coherence +
// w4*recency composite from §4.2.1 step 2.
type ScoreWeights struct {
	Relevance  float64 `yaml:"relevance"`
	Importance float64 `yaml:"importance"`
	Coherence  float64 `yaml:"coherence"`
	Recency    float64 `yaml:"recency"`
}

// DefaultConfig returns the built-in configuration, used as the mergo base
// that a user's config.yaml is merged on top of (§6, AMBIENT STACK).
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			Addr:                  ":8080",
			ShutdownTimeout:       15 * time.Second,
			InternalServiceHeader: "x-internal-service",
			MemoryServiceURL:      "http://localhost:8081",
		},
		Database: &DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Redis: &RedisConfig{DB: 0},
		Qdrant: &QdrantConfig{
			Port:                6334,
			MemoryCollection:    "memories",
			ConversationCollect: "conversation_embeddings",
			VectorSize:          1536,
		},
		Auth: &AuthConfig{
			ClockSkew:      2 * time.Minute,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
			MaxConcurrent:  2,
		},
		Providers: &ProvidersConfig{
			Profiles: map[string]ProviderProfile{
				"tiny":           {Provider: "anthropic", Model: "claude-haiku", MaxTokensCap: 20},
				"cost_optimized": {Provider: "openai", Model: "gpt-4o-mini", MaxTokensCap: 8000},
				"context_heavy":  {Provider: "google", Model: "gemini-1.5-pro", MaxTokensCap: 16000},
				"reasoning_heavy": {Provider: "anthropic", Model: "claude-opus", MaxTokensCap: 16000},
			},
			Embedding: EmbeddingProviderConfig{
				Provider:   "openai",
				Model:      "text-embedding-3-small",
				Dimensions: 1536,
			},
		},
		Router: &RouterConfig{
			KeepLastTurns:   10,
			MaxInputTokens:  16000,
			MaxOutputTokens: 4096,
		},
		Timeouts: &TimeoutsConfig{
			SoftMs:        8000,
			HardMs:        20000,
			TTFBSoftMs:    2000,
			ContextGather: 400 * time.Millisecond,
			WebSearch:     5 * time.Second,
			Ingestion:     1 * time.Second,
		},
		Flags: &FlagsConfig{
			FR: true, RAG: true, HybridRAG: true, Search: true, MemoryEvents: true,
		},
		Memory: &MemoryConfig{
			Cadence:     CadenceConfig{Msgs: 6, Tokens: 1500, Minutes: 3, DebounceSec: 30},
			Thresholds:  ThresholdsConfig{Save: 0.65, High: 0.80, MaxPerAudit: 3},
			AsyncRecall: AsyncRecallConfig{DeadlineMs: 300, MaxItems: 5},
		},
		Tiers: &TiersConfig{
			T1: TierConfig{ScoreWeights: ScoreWeights{Relevance: 0.5, Importance: 0.2, Coherence: 0.1, Recency: 0.2}, SaveThreshold: 0.65, TTLDays: 120, DecayPerWeek: 0.01},
			T2: TierConfig{ScoreWeights: ScoreWeights{Relevance: 0.3, Importance: 0.45, Coherence: 0.15, Recency: 0.1}, SaveThreshold: 0.70, TTLDays: 365, DecayPerWeek: 0.005},
			T3: TierConfig{ScoreWeights: ScoreWeights{Relevance: 0.4, Importance: 0.3, Coherence: 0.2, Recency: 0.1}, SaveThreshold: 0.70, TTLDays: 90, DecayPerWeek: 0.02},
		},
		Retention: &RetentionConfig{
			MessageRetentionDays: 365,
			EventTTL:             1 * time.Hour,
			CleanupInterval:      12 * time.Hour,
		},
		Telemetry: &TelemetryConfig{
			ServiceName:    "gateway",
			TracingEnabled: true,
			MetricsEnabled: true,
		},
	}
}
