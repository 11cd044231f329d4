package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"

	"github.com/xxxsen/ctxcache/internal/chunker"
	"github.com/xxxsen/ctxcache/internal/loader"
	"github.com/xxxsen/ctxcache/internal/retrieval"
)

type Config struct {
	Port             int                `json:"port"`
	Database         DatabaseConfig     `json:"database"`
	LogConfig        logger.LogConfig   `json:"log_config"`
	Providers        ProvidersConfig    `json:"providers"`
	ContentStore     ContentStoreConfig `json:"content_store"`
	Fallback         FallbackConfig     `json:"fallback"`
	Chunker          chunker.Options    `json:"chunker"`
	Tiered           TieredConfig       `json:"tiered"`
	Embedding        EmbeddingConfig    `json:"embedding"`
	Cache            CacheConfig        `json:"cache"`
	Loader           LoaderConfig       `json:"loader"`
	Schedule         ScheduleConfig     `json:"schedule"`
	RateLimitSeconds int                `json:"rate_limit_seconds"`
	CORSOrigins      []string           `json:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

type ProvidersConfig struct {
	Local ProviderConfig `json:"local"`
	Cloud ProviderConfig `json:"cloud"`
}

// ProviderConfig is handed to the provider factory selected by Name as-is.
type ProviderConfig struct {
	Name                 string `json:"name"`
	Dialect              string `json:"dialect,omitempty"`
	BaseURL              string `json:"base_url,omitempty"`
	APIKey               string `json:"api_key,omitempty"`
	Model                string `json:"model"`
	ContextLimit         int    `json:"context_limit,omitempty"`
	TimeoutSeconds       int    `json:"timeout_seconds,omitempty"`
	HealthTimeoutSeconds int    `json:"health_timeout_seconds,omitempty"`
}

type ContentStoreConfig struct {
	Type   string            `json:"type"`
	Redis  RedisStoreConfig  `json:"redis"`
	Memory MemoryStoreConfig `json:"memory"`
	Disk   DiskStoreConfig   `json:"disk"`
	S3     S3StoreConfig     `json:"s3"`
}

type RedisStoreConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

type MemoryStoreConfig struct {
	Size        int `json:"size"`
	MaxTTLHours int `json:"max_ttl_hours"`
}

type DiskStoreConfig struct {
	Dir string `json:"dir"`
}

type S3StoreConfig struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
}

type FallbackConfig struct {
	Policy                   string  `json:"policy"`
	AutoFallbackLargeContext *bool   `json:"auto_fallback_large_context"`
	CapacityRatio            float64 `json:"capacity_ratio"`
}

type SynthConfig struct {
	// Provider is "local" or "cloud".
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type TieredConfig struct {
	Threshold      float64                     `json:"threshold"`
	MaxResults     int                         `json:"max_results"`
	ScoreThreshold float64                     `json:"score_threshold"`
	Rewrite        bool                        `json:"rewrite"`
	Rerank         bool                        `json:"rerank"`
	Synth          []SynthConfig               `json:"synth"`
	Weights        retrieval.ConfidenceWeights `json:"weights"`
}

type EmbeddingConfig struct {
	// Provider is empty when retrieval is disabled.
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	LRUSize        int    `json:"lru_size"`
	LRUTTLMinutes  int    `json:"lru_ttl_minutes"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type CacheConfig struct {
	DefaultTTLMinutes int `json:"default_ttl_minutes"`
}

type LoaderConfig struct {
	loader.FileOptions
	URLTimeoutSeconds int `json:"url_timeout_seconds"`
}

type ScheduleConfig struct {
	PruneSpec            string `json:"prune_spec"`
	PruneGraceHours      int    `json:"prune_grace_hours"`
	EmbeddingCleanupSpec string `json:"embedding_cleanup_spec"`
	EmbeddingMaxAgeDays  int    `json:"embedding_max_age_days"`
	UsageCleanupSpec     string `json:"usage_cleanup_spec"`
	UsageMaxAgeDays      int    `json:"usage_max_age_days"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Providers.Local.Name == "" {
		cfg.Providers.Local.Name = "local"
	}
	if cfg.Providers.Local.ContextLimit == 0 {
		cfg.Providers.Local.ContextLimit = 32768
	}
	if cfg.Providers.Local.TimeoutSeconds == 0 {
		cfg.Providers.Local.TimeoutSeconds = 300
	}
	if cfg.Providers.Cloud.Name == "" {
		cfg.Providers.Cloud.Name = "gemini"
	}
	if cfg.Providers.Cloud.TimeoutSeconds == 0 {
		cfg.Providers.Cloud.TimeoutSeconds = 300
	}
	if cfg.ContentStore.Type == "" {
		cfg.ContentStore.Type = "memory"
	}
	if cfg.Fallback.Policy == "" {
		cfg.Fallback.Policy = "auto"
	}
	if cfg.Fallback.AutoFallbackLargeContext == nil {
		enabled := true
		cfg.Fallback.AutoFallbackLargeContext = &enabled
	}
	defaults := chunker.DefaultOptions()
	if cfg.Chunker.TargetTokens == 0 {
		cfg.Chunker.TargetTokens = defaults.TargetTokens
	}
	if cfg.Chunker.OverlapTokens == 0 {
		cfg.Chunker.OverlapTokens = defaults.OverlapTokens
	}
	if cfg.Chunker.MaxTokens == 0 {
		cfg.Chunker.MaxTokens = defaults.MaxTokens
	}
	if cfg.Chunker.WholeFilePatterns == nil {
		cfg.Chunker.WholeFilePatterns = defaults.WholeFilePatterns
	}
	if cfg.Tiered.Threshold == 0 {
		cfg.Tiered.Threshold = 0.7
	}
	if cfg.Tiered.MaxResults == 0 {
		cfg.Tiered.MaxResults = 5
	}
	if len(cfg.Tiered.Synth) == 0 {
		cfg.Tiered.Synth = []SynthConfig{{Provider: "cloud"}, {Provider: "local"}}
	}
	if len(cfg.Tiered.Weights.Top) == 0 {
		cfg.Tiered.Weights = retrieval.DefaultConfidenceWeights()
	}
	if cfg.Embedding.LRUSize == 0 {
		cfg.Embedding.LRUSize = 1000
	}
	if cfg.Embedding.LRUTTLMinutes == 0 {
		cfg.Embedding.LRUTTLMinutes = 60
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Cache.DefaultTTLMinutes == 0 {
		cfg.Cache.DefaultTTLMinutes = 60
	}
	if cfg.Schedule.PruneSpec == "" {
		cfg.Schedule.PruneSpec = "*/30 * * * *"
	}
	if cfg.Schedule.PruneGraceHours == 0 {
		cfg.Schedule.PruneGraceHours = 24
	}
	if cfg.Schedule.EmbeddingCleanupSpec == "" {
		cfg.Schedule.EmbeddingCleanupSpec = "0 3 * * *"
	}
	if cfg.Schedule.EmbeddingMaxAgeDays == 0 {
		cfg.Schedule.EmbeddingMaxAgeDays = 30
	}
	if cfg.Schedule.UsageCleanupSpec == "" {
		cfg.Schedule.UsageCleanupSpec = "30 3 * * *"
	}
	if cfg.Schedule.UsageMaxAgeDays == 0 {
		cfg.Schedule.UsageMaxAgeDays = 90
	}
	if cfg.RateLimitSeconds == 0 {
		cfg.RateLimitSeconds = 2
	}
}

func validate(cfg *Config) error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres")
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if cfg.Providers.Local.Model == "" {
		return fmt.Errorf("providers.local.model is required")
	}
	switch cfg.ContentStore.Type {
	case "memory":
	case "redis":
		if cfg.ContentStore.Redis.Addr == "" {
			return fmt.Errorf("content_store.redis.addr is required for redis store")
		}
	case "disk":
		if cfg.ContentStore.Disk.Dir == "" {
			return fmt.Errorf("content_store.disk.dir is required for disk store")
		}
	case "s3":
		s3 := cfg.ContentStore.S3
		if s3.Endpoint == "" || s3.Bucket == "" || s3.SecretID == "" || s3.SecretKey == "" {
			return fmt.Errorf("content_store.s3 endpoint/bucket/secret_id/secret_key are required for s3 store")
		}
	default:
		return fmt.Errorf("content_store.type must be memory, redis, disk or s3")
	}
	switch strings.ToLower(cfg.Fallback.Policy) {
	case "auto", "deny", "large_context_only":
	default:
		return fmt.Errorf("fallback.policy must be auto, deny or large_context_only")
	}
	if cfg.Fallback.CapacityRatio < 0 || cfg.Fallback.CapacityRatio > 1 {
		return fmt.Errorf("fallback.capacity_ratio must be within (0, 1]")
	}
	if cfg.Tiered.Threshold < 0 || cfg.Tiered.Threshold > 1 {
		return fmt.Errorf("tiered.threshold must be within [0, 1]")
	}
	for i, s := range cfg.Tiered.Synth {
		if s.Provider != "local" && s.Provider != "cloud" {
			return fmt.Errorf("tiered.synth[%d].provider must be local or cloud", i)
		}
	}
	if cfg.Embedding.Provider != "" && cfg.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required when embedding.provider is set")
	}
	return nil
}

// ContentStoreArgs returns the section the selected store factory decodes.
func (c ContentStoreConfig) ContentStoreArgs() interface{} {
	switch c.Type {
	case "redis":
		return c.Redis
	case "disk":
		return c.Disk
	case "s3":
		return c.S3
	default:
		return c.Memory
	}
}
