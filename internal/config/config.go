package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"sieve-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModelID string `envconfig:"EMBEDDING_MODEL_ID" default:"text-embedding-3-small"`
	RerankerModelID  string `envconfig:"RERANKER_MODEL_ID" default:"gpt-4o-mini"`
	OCRModelID       string `envconfig:"OCR_MODEL_ID" default:"gpt-4o-mini"`

	// Ingestion
	ChunkSize        int    `envconfig:"CHUNK_SIZE" default:"1200"`
	ChunkOverlap     int    `envconfig:"CHUNK_OVERLAP" default:"200"`
	ChunkingStrategy string `envconfig:"CHUNKING_STRATEGY" default:"fixed"`
	MaxFileSize      int64  `envconfig:"MAX_FILE_SIZE" default:"10485760"`
	WorkerCount      int    `envconfig:"WORKER_COUNT" default:"4"`

	// Retrieval
	RRFK           int     `envconfig:"RRF_K" default:"60"`
	TopNPerSignal  int     `envconfig:"TOP_N_PER_SIGNAL" default:"50"`
	RerankEnabled  bool    `envconfig:"RERANK_ENABLED" default:"false"`
	RerankPoolSize int     `envconfig:"RERANK_POOL_SIZE" default:"20"`
	BM25K1         float64 `envconfig:"BM25_K1" default:"1.5"`
	BM25B          float64 `envconfig:"BM25_B" default:"0.75"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("SIEVE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap (%d) must be smaller than chunk size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	switch c.ChunkingStrategy {
	case "fixed", "paragraph", "sentence":
	default:
		return fmt.Errorf("unknown chunking strategy: %s", c.ChunkingStrategy)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
