package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Ollama  OllamaConfig
	OpenAI  OpenAIConfig
	Gemini  GeminiConfig
	Embed   EmbedConfig
	Storage StorageConfig
	Index   IndexConfig
	Match   MatchConfig
	Reembed ReembedConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
	// Token, when set, is required as a bearer token on every route but /health.
	Token string
}

// EngineConfig selects the embedding provider: "ollama", "openai" or "gemini".
type EngineConfig struct {
	Provider string
}

type OllamaConfig struct {
	BaseURL string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

type GeminiConfig struct {
	APIKey string
}

type EmbedConfig struct {
	Model   string
	Timeout time.Duration
}

type StorageConfig struct {
	DataDir string
}

// IndexConfig selects the vector index backend: "sqlite", "postgres" or "memory".
type IndexConfig struct {
	Backend     string
	PostgresDSN string
	Table       string
	Timeout     time.Duration
}

type MatchConfig struct {
	ScoreThreshold  float64
	Count           int
	DuplicatePolicy string
}

type ReembedConfig struct {
	PollInterval time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Engine: EngineConfig{
			Provider: "ollama",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Embed: EmbedConfig{
			Model:   "all-minilm",
			Timeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Index: IndexConfig{
			Backend: "sqlite",
			Table:   "profile_vectors",
			Timeout: 5 * time.Second,
		},
		Match: MatchConfig{
			ScoreThreshold:  0.7,
			Count:           3,
			DuplicatePolicy: "reembed",
		},
		Reembed: ReembedConfig{
			PollInterval: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/kindred/config.json, then applies KINDRED_* environment
// variables on top. A .env file in the working directory is loaded first;
// variables already set in the process environment win over it.
//
// Secrets (API keys, the Postgres DSN) are read from the environment only.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newFileBackend(configFilePath()))
}

// loadDotEnv reads path into the process environment. A missing file is
// fine; an unreadable or malformed one is an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Engine.Provider {
	case "ollama":
	case "openai":
		if c.OpenAI.APIKey == "" && c.OpenAI.BaseURL == "" {
			return fmt.Errorf("missing required config: OpenAI API key. " +
				"Set it via environment variable KINDRED_OPENAI_API_KEY or point openai.base_url at a compatible server")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("missing required config: Gemini API key. " +
				"Set it via environment variable KINDRED_GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("engine.provider = %q, want ollama, openai or gemini", c.Engine.Provider)
	}

	switch c.Index.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.Index.PostgresDSN == "" {
			return fmt.Errorf("missing required config: Postgres DSN. " +
				"Set it via environment variable KINDRED_INDEX_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("index.backend = %q, want sqlite, postgres or memory", c.Index.Backend)
	}

	if c.Match.ScoreThreshold < -1 || c.Match.ScoreThreshold > 1 {
		return fmt.Errorf("match.score_threshold = %v, must be within [-1, 1]", c.Match.ScoreThreshold)
	}
	if c.Match.Count < 1 {
		return fmt.Errorf("match.count = %d, must be at least 1", c.Match.Count)
	}
	switch c.Match.DuplicatePolicy {
	case "reembed", "skip":
	default:
		return fmt.Errorf("match.duplicate_policy = %q, want reembed or skip", c.Match.DuplicatePolicy)
	}
	if c.Embed.Model == "" {
		return fmt.Errorf("embed.model must not be empty")
	}
	if c.Embed.Timeout <= 0 || c.Index.Timeout <= 0 {
		return fmt.Errorf("embed.timeout and index.timeout must be positive")
	}
	return nil
}
