package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

const (
	VectorCachePostgres = "postgres"
	VectorCacheWeaviate = "weaviate"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"marksort"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"marksort"`

	WeaviateHost       string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme     string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	VectorCacheBackend string `envconfig:"VECTOR_CACHE_BACKEND" default:"postgres"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI     bool   `envconfig:"ENABLE_API" default:"true"`
	EnableWorkers bool   `envconfig:"ENABLE_WORKERS" default:"true"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	NamingModel    string `envconfig:"NAMING_MODEL" default:"gemini-2.0-flash"`
	EnableAINaming bool   `envconfig:"ENABLE_AI_NAMING" default:"true"`

	// Pipeline
	IngestConcurrency     int           `envconfig:"INGEST_CONCURRENCY" default:"4"`
	EnrichmentConcurrency int           `envconfig:"ENRICHMENT_CONCURRENCY" default:"32"`
	EmbeddingConcurrency  int           `envconfig:"EMBEDDING_CONCURRENCY" default:"8"`
	ClusteringConcurrency int           `envconfig:"CLUSTERING_CONCURRENCY" default:"1"`
	JobMaxAttempts        int           `envconfig:"JOB_MAX_ATTEMPTS" default:"5"`
	JobBackoffBase        time.Duration `envconfig:"JOB_BACKOFF_BASE" default:"2s"`
	JobBackoffMax         time.Duration `envconfig:"JOB_BACKOFF_MAX" default:"2m"`
	StuckJobThreshold     time.Duration `envconfig:"STUCK_JOB_THRESHOLD" default:"15m"`
	IngestProgressEvery   int           `envconfig:"INGEST_PROGRESS_EVERY" default:"25"`
	FetchTimeout          time.Duration `envconfig:"FETCH_TIMEOUT" default:"8s"`
	EmbedTimeout          time.Duration `envconfig:"EMBED_TIMEOUT" default:"60s"`
	NamingTimeout         time.Duration `envconfig:"NAMING_TIMEOUT" default:"20s"`
	ClusterTriggerDelay   time.Duration `envconfig:"CLUSTER_TRIGGER_DELAY" default:"5s"`
	ClusterSeed           int64         `envconfig:"CLUSTER_SEED" default:"0"`

	// Quota
	TierFreeLimit int `envconfig:"TIER_FREE_LIMIT" default:"500"`
	TierProLimit  int `envconfig:"TIER_PRO_LIMIT" default:"20000"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.NSQDHost == "" {
		return fmt.Errorf("%w: NSQD_HOST", ErrMissingRequired)
	}
	switch c.VectorCacheBackend {
	case VectorCachePostgres, VectorCacheWeaviate:
	default:
		return fmt.Errorf("unsupported VECTOR_CACHE_BACKEND %q", c.VectorCacheBackend)
	}
	return nil
}

// TierLimits maps a user tier to its bookmark quota.
func (c *Config) TierLimits() map[string]int {
	return map[string]int{
		"free": c.TierFreeLimit,
		"pro":  c.TierProLimit,
	}
}
