package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "KINDRED_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "KINDRED_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "engine.provider", typ: kString, env: "KINDRED_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "ollama.base_url", typ: kString, env: "KINDRED_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "KINDRED_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "KINDRED_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "gemini.api_key", typ: kString, env: "KINDRED_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "embed.model", typ: kString, env: "KINDRED_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embed.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Model },
	},
	{
		key: "embed.timeout", typ: kDuration, env: "KINDRED_EMBED_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Embed.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embed.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "KINDRED_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "index.backend", typ: kString, env: "KINDRED_INDEX_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Index.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Backend },
	},
	{
		key: "index.postgres_dsn", typ: kString, env: "KINDRED_INDEX_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Index.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.PostgresDSN },
	},
	{
		key: "index.table", typ: kString, env: "KINDRED_INDEX_TABLE",
		apply:   func(cfg *Config, v any) { cfg.Index.Table = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Table },
	},
	{
		key: "index.timeout", typ: kDuration, env: "KINDRED_INDEX_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Index.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Index.Timeout },
	},
	{
		key: "match.score_threshold", typ: kFloat, env: "KINDRED_MATCH_SCORE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Match.ScoreThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Match.ScoreThreshold },
	},
	{
		key: "match.count", typ: kInt, env: "KINDRED_MATCH_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Match.Count = v.(int) },
		extract: func(cfg Config) any { return cfg.Match.Count },
	},
	{
		key: "match.duplicate_policy", typ: kString, env: "KINDRED_MATCH_DUPLICATE_POLICY",
		apply:   func(cfg *Config, v any) { cfg.Match.DuplicatePolicy = v.(string) },
		extract: func(cfg Config) any { return cfg.Match.DuplicatePolicy },
	},
	{
		key: "reembed.poll_interval", typ: kDuration, env: "KINDRED_REEMBED_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Reembed.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reembed.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "KINDRED_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw text for a non-int key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kInt:
		return strconv.Atoi(raw)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := parseValue(s.typ, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
