// Package config provides configuration loading for graphragd.
package config

import (
	"fmt"
	"time"

	"github.com/purplefabric/graphrag/internal/logging"
)

// Config is the full configuration tree for the engine.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     logging.Config    `koanf:"logging"`
	Triplestore TriplestoreConfig `koanf:"triplestore"`
	Vector      VectorConfig      `koanf:"vector"`
	LPG         LPGConfig         `koanf:"lpg"`
	Redis       RedisConfig       `koanf:"redis"`
	SQL         SQLConfig         `koanf:"sql"`
	LLM         LLMConfig         `koanf:"llm"`
	Embedding   EmbeddingConfig   `koanf:"embedding"`
	Memory      MemoryConfig      `koanf:"memory"`
	Audit       AuditConfig       `koanf:"audit"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// TriplestoreConfig holds the SPARQL endpoint settings.
type TriplestoreConfig struct {
	// BaseURL is the triplestore root, e.g. http://localhost:7200.
	BaseURL string `koanf:"base_url"`

	// Repository is the repository name under the base URL.
	Repository string `koanf:"repository"`

	// MaxConcurrent caps in-flight requests to the triplestore.
	MaxConcurrent int `koanf:"max_concurrent"`

	// Timeout applies per request.
	Timeout Duration `koanf:"timeout"`

	Username string `koanf:"username"`
	Password Secret `koanf:"password"`
}

// VectorConfig holds the qdrant settings for the chunk store.
type VectorConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`

	// Dimension is the embedding dimensionality; must match the embedder.
	Dimension int `koanf:"dimension"`

	UseTLS bool `koanf:"use_tls"`
}

// LPGConfig holds the neo4j connection settings.
type LPGConfig struct {
	URI      string `koanf:"uri"`
	Username string `koanf:"username"`
	Password Secret `koanf:"password"`
	Database string `koanf:"database"`
}

// RedisConfig holds the KV store settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
}

// SQLConfig holds the federated-catalog connection settings.
type SQLConfig struct {
	Driver string `koanf:"driver"`
	DSN    Secret `koanf:"dsn"`
}

// LLMConfig holds the chat model settings.
type LLMConfig struct {
	// Provider is currently "openai" (any OpenAI-compatible endpoint).
	Provider string   `koanf:"provider"`
	Model    string   `koanf:"model"`
	BaseURL  string   `koanf:"base_url"`
	APIKey   Secret   `koanf:"api_key"`
	Timeout  Duration `koanf:"timeout"`
}

// EmbeddingConfig holds the embedding model settings.
type EmbeddingConfig struct {
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	APIKey    Secret `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
}

// MemoryConfig tunes the long-term memory store.
type MemoryConfig struct {
	RecallTopK    int      `koanf:"recall_top_k"`
	MinSimilarity float64  `koanf:"min_similarity"`
	DecayInterval Duration `koanf:"decay_interval"`
}

// AuditConfig tunes the audit/diff engine.
type AuditConfig struct {
	// BatchSize is the maximum triples per audit write.
	BatchSize int `koanf:"batch_size"`

	// SkipPredicates lists pf: predicates excluded from data-graph entity
	// discovery. Surfaced here rather than hardcoded.
	SkipPredicates []string `koanf:"skip_predicates"`
}

// Default returns the hardcoded defaults, before YAML and env overrides.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: logging.Config{Level: "info", Format: "json"},
		Triplestore: TriplestoreConfig{
			BaseURL:       "http://localhost:7200",
			Repository:    "graphrag",
			MaxConcurrent: 10,
			Timeout:       Duration(120 * time.Second),
		},
		Vector: VectorConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "document_chunks",
			Dimension:  1536,
		},
		LPG: LPGConfig{
			URI:      "neo4j://localhost:7687",
			Username: "neo4j",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		SQL:   SQLConfig{Driver: "postgres"},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  Duration(30 * time.Second),
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		Memory: MemoryConfig{
			RecallTopK:    5,
			MinSimilarity: 0.3,
			DecayInterval: Duration(24 * time.Hour),
		},
		Audit: AuditConfig{
			BatchSize: 10000,
			SkipPredicates: []string{
				"http://purplefabric.ai/ontology/sourceDocument",
				"http://purplefabric.ai/ontology/rowIndex",
				"http://purplefabric.ai/ontology/confidence",
			},
		},
	}
}

// Validate fails fast on values the engine cannot start with.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	if c.Triplestore.BaseURL == "" {
		return fmt.Errorf("triplestore: base_url is required")
	}
	if c.Triplestore.Repository == "" {
		return fmt.Errorf("triplestore: repository is required")
	}
	if c.Triplestore.MaxConcurrent <= 0 {
		return fmt.Errorf("triplestore: max_concurrent must be positive")
	}
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector: dimension must be positive")
	}
	if c.Embedding.Dimension != c.Vector.Dimension {
		return fmt.Errorf("embedding dimension %d does not match vector store dimension %d",
			c.Embedding.Dimension, c.Vector.Dimension)
	}
	if c.Audit.BatchSize <= 0 {
		return fmt.Errorf("audit: batch_size must be positive")
	}
	return nil
}
