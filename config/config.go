package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for settings that can never work
var ErrInvalidConfig = errors.New("invalid config")

// Config holds application configuration
type Config struct {
	Source struct {
		Root           string   `yaml:"root"`
		IgnorePrefixes []string `yaml:"ignore_prefixes"`
	} `yaml:"source"`
	State struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"state"`
	Embeddings struct {
		Provider    string        `yaml:"provider"`
		URL         string        `yaml:"url"`
		Model       string        `yaml:"model"`
		APIKey      string        `yaml:"api_key"`
		Dimension   int           `yaml:"dimension"` // 0 learns it from the provider
		Concurrency int           `yaml:"concurrency"`
		Timeout     time.Duration `yaml:"timeout"`
		MaxRetries  int           `yaml:"max_retries"`
		CacheSize   int           `yaml:"cache_size"`
		RateLimit   float64       `yaml:"rate_limit"`
	} `yaml:"embeddings"`
	Vector struct {
		Backend    string `yaml:"backend"`
		URL        string `yaml:"url"`
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		APIKey     string `yaml:"api_key"`
		Collection string `yaml:"collection"`
		BatchSize  int    `yaml:"batch_size"`
		Path       string `yaml:"path"`
		Persistent bool   `yaml:"persistent"`
	} `yaml:"vector"`
	Processing struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
		TopK         int `yaml:"top_k"`
	} `yaml:"processing"`
	Pipeline struct {
		Workers         int           `yaml:"workers"`
		StartupAttempts int           `yaml:"startup_attempts"`
		StartupBackoff  time.Duration `yaml:"startup_backoff"`
	} `yaml:"pipeline"`
	Legacy struct {
		Converter string `yaml:"converter"`
	} `yaml:"legacy"`
	Watch struct {
		Debounce time.Duration `yaml:"debounce"`
	} `yaml:"watch"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultPath returns the config file location used when none is given
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".rag-indexer", "config.yaml")
}

// Load loads configuration from file or returns defaults.
// Environment variables override values from the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings that would fail every document at runtime
func (c *Config) Validate() error {
	if c.Source.Root == "" {
		return fmt.Errorf("%w: source root is empty", ErrInvalidConfig)
	}
	if c.Processing.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	}
	if c.Processing.ChunkOverlap < 0 || c.Processing.ChunkOverlap >= c.Processing.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size)", ErrInvalidConfig)
	}
	if c.Vector.BatchSize <= 0 {
		return fmt.Errorf("%w: vector batch_size must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.StartupAttempts <= 0 {
		return fmt.Errorf("%w: startup_attempts must be positive", ErrInvalidConfig)
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	cfg := &Config{}

	cfg.Source.Root = "./rag-source"
	cfg.Source.IgnorePrefixes = []string{"~", ".~lock", "."}
	cfg.State.Backend = "file"
	cfg.State.Path = "indexing_state.json"
	cfg.Embeddings.Provider = "service"
	cfg.Embeddings.URL = "http://rag-embedding:8001"
	cfg.Embeddings.Model = ""
	cfg.Embeddings.Concurrency = 4
	cfg.Embeddings.Timeout = 30 * time.Second
	cfg.Embeddings.MaxRetries = 3
	cfg.Embeddings.CacheSize = 10000
	cfg.Vector.Backend = "qdrant"
	cfg.Vector.Host = "localhost"
	cfg.Vector.Port = 6334
	cfg.Vector.URL = "postgres://postgres@localhost/postgres?sslmode=disable"
	cfg.Vector.Collection = "internal_regulations_v2"
	cfg.Vector.BatchSize = 32
	cfg.Vector.Path = filepath.Join(os.TempDir(), "rag-indexer-vectors")
	cfg.Processing.ChunkSize = 800
	cfg.Processing.ChunkOverlap = 60
	cfg.Processing.TopK = 5
	cfg.Pipeline.Workers = 4
	cfg.Pipeline.StartupAttempts = 30
	cfg.Pipeline.StartupBackoff = 2 * time.Second
	cfg.Watch.Debounce = 2 * time.Second
	cfg.Log.Level = "info"

	return cfg
}

// applyEnv applies the environment variables the indexer has always honoured
func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("DOCS_ROOT_PATH", &c.Source.Root)
	str("STATE_PATH", &c.State.Path)
	str("EMBEDDING_SERVICE_URL", &c.Embeddings.URL)
	str("QDRANT_HOST", &c.Vector.Host)
	str("COLLECTION_NAME", &c.Vector.Collection)
	str("LOG_LEVEL", &c.Log.Level)

	for key, dst := range map[string]*int{
		"QDRANT_PORT":         &c.Vector.Port,
		"EMBEDDING_DIMENSION": &c.Embeddings.Dimension,
		"CHUNK_SIZE":          &c.Processing.ChunkSize,
		"CHUNK_OVERLAP":       &c.Processing.ChunkOverlap,
		"BATCH_SIZE":          &c.Vector.BatchSize,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	// EMBEDDING_SERVICE_URL may name the endpoint rather than the base URL
	c.Embeddings.URL = strings.TrimSuffix(c.Embeddings.URL, "/create_embedding")

	return nil
}
