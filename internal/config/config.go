// Package config loads gocontext configuration from an optional YAML file and
// GOCONTEXT_ prefixed environment variables.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variable names before mapping.
const EnvPrefix = "GOCONTEXT_"

const maxConfigFileSize = 1024 * 1024 // 1MB

// Config is the root configuration.
type Config struct {
	Storage     StorageConfig     `koanf:"storage"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embedder    EmbedderConfig    `koanf:"embedder"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Logging     LoggingConfig     `koanf:"logging"`
	HTTP        HTTPConfig        `koanf:"http"`
}

// StorageConfig configures the SQLite document store.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Provider   string `koanf:"provider"` // chromem | qdrant
	Path       string `koanf:"path"`
	Namespace  string `koanf:"namespace"`
	Compress   bool   `koanf:"compress"`
	QdrantHost string `koanf:"qdrant_host"`
	QdrantPort int    `koanf:"qdrant_port"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Provider          string  `koanf:"provider"` // local | openai
	Model             string  `koanf:"model"`
	APIKey            Secret  `koanf:"api_key"`
	CacheSize         int     `koanf:"cache_size"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// IngestConfig tunes the ingestion engine.
type IngestConfig struct {
	Workers       int      `koanf:"workers"`
	MaxFileSizeKB int      `koanf:"max_file_size_kb"`
	SkipDirs      []string `koanf:"skip_dirs"`
	ParseTimeout  Duration `koanf:"parse_timeout"`
	ChunkStrategy string   `koanf:"chunk_strategy"` // symbol | lines
	WatchDebounce Duration `koanf:"watch_debounce"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json | console
}

// HTTPConfig configures the optional HTTP control plane. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// DefaultSkipDirs are directory names never descended into.
var DefaultSkipDirs = []string{".git", "node_modules", "vendor", "__pycache__", "dist", "build"}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration. Precedence, highest first:
//  1. Environment variables (GOCONTEXT_INGEST_WORKERS -> ingest.workers)
//  2. YAML file at path, if path is non-empty
//  3. Defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if !cfg.Embedder.APIKey.IsSet() {
		cfg.Embedder.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps GOCONTEXT_SECTION_FIELD_NAME to section.field_name.
// Strategy: split on the first underscore only.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func applyDefaults(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".gocontext")

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(base, "gocontext.db")
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = filepath.Join(base, "vectors")
	}
	if cfg.VectorStore.Namespace == "" {
		cfg.VectorStore.Namespace = "default"
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}

	if cfg.Embedder.Provider == "" {
		cfg.Embedder.Provider = "local"
	}
	if cfg.Embedder.CacheSize == 0 {
		cfg.Embedder.CacheSize = 10000
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = runtime.NumCPU()
	}
	if cfg.Ingest.MaxFileSizeKB == 0 {
		cfg.Ingest.MaxFileSizeKB = 1024
	}
	if len(cfg.Ingest.SkipDirs) == 0 {
		cfg.Ingest.SkipDirs = append([]string(nil), DefaultSkipDirs...)
	}
	if cfg.Ingest.ChunkStrategy == "" {
		cfg.Ingest.ChunkStrategy = "symbol"
	}
	if cfg.Ingest.WatchDebounce == 0 {
		cfg.Ingest.WatchDebounce = Duration(2 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks every enumerated and numeric field.
func (c *Config) Validate() error {
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore.provider: unsupported value %q (want chromem or qdrant)", c.VectorStore.Provider)
	}
	if c.VectorStore.QdrantPort < 1 || c.VectorStore.QdrantPort > 65535 {
		return fmt.Errorf("vectorstore.qdrant_port: must be 1-65535, got %d", c.VectorStore.QdrantPort)
	}
	if strings.Contains(c.VectorStore.Namespace, "__") {
		return fmt.Errorf("vectorstore.namespace: must not contain \"__\"")
	}

	switch c.Embedder.Provider {
	case "local", "openai":
	default:
		return fmt.Errorf("embedder.provider: unsupported value %q (want local or openai)", c.Embedder.Provider)
	}
	if c.Embedder.CacheSize < 0 {
		return fmt.Errorf("embedder.cache_size: must not be negative")
	}
	if c.Embedder.RequestsPerSecond < 0 {
		return fmt.Errorf("embedder.requests_per_second: must not be negative")
	}

	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers: must be at least 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.MaxFileSizeKB < 1 {
		return fmt.Errorf("ingest.max_file_size_kb: must be at least 1, got %d", c.Ingest.MaxFileSizeKB)
	}
	switch c.Ingest.ChunkStrategy {
	case "symbol", "lines":
	default:
		return fmt.Errorf("ingest.chunk_strategy: unsupported value %q (want symbol or lines)", c.Ingest.ChunkStrategy)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
