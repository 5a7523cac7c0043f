package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// AppInfoConfig names the running application.
type AppInfoConfig struct {
	Name    string `yaml:"name" env:"RAG_APP_NAME"`
	Version string `yaml:"version" env:"RAG_APP_VERSION"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host                string `yaml:"host" env:"RAG_SERVER_HOST"`
	Port                int    `yaml:"port" env:"RAG_SERVER_PORT"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs" env:"RAG_SERVER_SHUTDOWN_TIMEOUT_SECS"`
	MaxMessageBytes     int64  `yaml:"max_message_bytes" env:"RAG_SERVER_MAX_MESSAGE_BYTES"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level" env:"RAG_LOG_LEVEL"`
	File       string `yaml:"file" env:"RAG_LOG_FILE"`
	TimeFormat string `yaml:"time_format" env:"RAG_LOG_TIME_FORMAT"`
}

// HistoryConfig configures durable per-session history.
type HistoryConfig struct {
	Dir           string `yaml:"dir" env:"RAG_HISTORY_DIR"`
	MaxSessions   int    `yaml:"max_sessions" env:"RAG_MAX_SESSIONS"`
	SweepSchedule string `yaml:"sweep_schedule" env:"RAG_HISTORY_SWEEP_SCHEDULE"`
}

// RetrievalConfig configures how many passages are retrieved per question.
type RetrievalConfig struct {
	TopK int `yaml:"top_k" env:"RAG_TOP_K"`
}

// OpenAIGeneratorConfig holds configuration for the OpenAI-compatible chat model.
type OpenAIGeneratorConfig struct {
	BaseURL     string  `yaml:"base_url" env:"RAG_OPENAI_BASE_URL"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model" env:"RAG_OPENAI_MODEL"`
	Temperature float32 `yaml:"temperature" env:"RAG_OPENAI_TEMPERATURE"`
	MaxTokens   int     `yaml:"max_tokens" env:"RAG_OPENAI_MAX_TOKENS"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type         string                `yaml:"type"`
	SystemPrompt string                `yaml:"system_prompt,omitempty"`
	OpenAI       OpenAIGeneratorConfig `yaml:"openai"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type" env:"RAG_EMBEDDER"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type" env:"RAG_VECTOR_STORE"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" env:"RAG_QDRANT_URL"`
	APIKey      string `yaml:"api_key" env:"RAG_QDRANT_API_KEY"`
	Collection  string `yaml:"collection"`
	Distance    string `yaml:"distance"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// IngestConfig lists documents indexed at server start.
type IngestConfig struct {
	Paths []string `yaml:"paths" env:"RAG_INGEST_PATHS" envSeparator:","`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	App         AppInfoConfig     `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	History     HistoryConfig     `yaml:"history"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Ingest      IngestConfig      `yaml:"ingest"`
}

// Addr returns the listen address of the server.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load reads a config from a specified path and applies environment overrides.
// If the file does not exist, defaults are used.
func Load(path string) (*AppConfig, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	// seeded so an explicit temperature of 0 survives defaulting
	cfg.Generator.OpenAI.Temperature = defaultTemperature
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/rag/config.yaml.
// If neither exists, it writes defaults to ~/.config/rag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err != nil {
		if err := Save(userPath, defaultConfig()); err != nil {
			return nil, "", err
		}
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports settings that cannot be defaulted.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.History.MaxSessions <= 0 {
		return fmt.Errorf("history.max_sessions must be positive, got %d", c.History.MaxSessions)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Generator.OpenAI.Temperature < 0 || c.Generator.OpenAI.Temperature > 2 {
		return fmt.Errorf("generator temperature out of range: %v", c.Generator.OpenAI.Temperature)
	}
	if c.VectorStore.Type == "qdrant" && (c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "") {
		return errors.New("qdrant vector store selected but vector_store.qdrant.url is empty")
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rag", "config.yaml"), nil
}

const defaultTemperature = 0.5

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "tfidf"},
		Chunker:     ChunkerConfig{Type: "sentence", SentencesPerChunk: 5, OverlapSentences: 1},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Summarizer:  SummarizerConfig{Type: "frequency", MaxSentences: 5},
		Generator:   GeneratorConfig{Type: "openai", OpenAI: OpenAIGeneratorConfig{Temperature: defaultTemperature}},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.App.Name == "" {
		cfg.App.Name = "Chat with Files"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "1.0.0"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}
	if cfg.Server.MaxMessageBytes == 0 {
		cfg.Server.MaxMessageBytes = 64 << 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.History.Dir == "" {
		cfg.History.Dir = filepath.Join("database", "history")
	}
	if cfg.History.MaxSessions == 0 {
		cfg.History.MaxSessions = 10
	}
	if cfg.History.SweepSchedule == "" {
		cfg.History.SweepSchedule = "@every 10m"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "openai"
	}
	gen := &cfg.Generator.OpenAI
	if gen.BaseURL == "" {
		gen.BaseURL = "https://api.openai.com/v1"
	}
	if gen.APIKeyEnv == "" {
		gen.APIKeyEnv = "OPENAI_API_KEY"
	}
	if gen.Model == "" {
		gen.Model = "gpt-4o-mini"
	}
	if gen.MaxTokens == 0 {
		gen.MaxTokens = 1024
	}
	if gen.TimeoutSecs == 0 {
		gen.TimeoutSecs = 60
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 5
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "documents"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
}
