package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "configs/launchbox.json"

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig        `json:"server"`
	Providers []ProviderConfig    `json:"providers"`
	Bindings  map[string]string   `json:"bindings,omitempty"`
	Fallbacks map[string][]string `json:"fallbacks,omitempty"`
	Actions   ActionsConfig       `json:"actions"`
	Executor  ExecutorConfig      `json:"executor"`
	Session   SessionConfig       `json:"session"`
	Database  DatabaseConfig      `json:"database"`
	Embedding EmbeddingConfig     `json:"embedding"`
	Gateway   GatewayConfig       `json:"gateway"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"` // openai | anthropic | backend
	Name       string            `json:"name"`
	Endpoint   string            `json:"endpoint"`
	APIKey     string            `json:"api_key"`
	Models     []string          `json:"models,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

type ActionsConfig struct {
	// CatalogPath overrides the embedded action catalog.
	CatalogPath string `json:"catalog_path"`
	// BackendURL is the Action execution endpoint for code/api actions.
	BackendURL string `json:"backend_url"`
	TimeoutSec int    `json:"timeout_sec"`
}

type ExecutorConfig struct {
	ReasonTimeoutSec   int `json:"reason_timeout_sec"`
	ReasonRetries      int `json:"reason_retries"`
	DispatchTimeoutSec int `json:"dispatch_timeout_sec"`
}

type SessionConfig struct {
	ImageCacheSize   int `json:"image_cache_size"`
	HistoryMaxTokens int `json:"history_max_tokens"`
	// Store selects snapshot persistence: memory, redis or postgres.
	Store         string `json:"store"`
	SnapshotTTLHr int    `json:"snapshot_ttl_hours"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
	// Events publishes conversation events to Redis Streams.
	Events bool `json:"events"`
}

type QdrantConfig struct {
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	MinScore float32 `json:"min_score"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type PersonaConfig struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url"`
	Emoji   string `json:"emoji"`
}

type SlackGatewayConfig struct {
	Enabled  bool           `json:"enabled"`
	BotToken string         `json:"bot_token"`
	AppToken string         `json:"app_token"`
	Persona  *PersonaConfig `json:"persona,omitempty"`
}

type DiscordGatewayConfig struct {
	Enabled  bool              `json:"enabled"`
	BotToken string            `json:"bot_token"`
	Persona  *PersonaConfig    `json:"persona,omitempty"`
	Webhooks map[string]string `json:"webhooks,omitempty"` // channelID -> webhook URL
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Path returns CONFIG_PATH or DefaultPath.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// LoadEnv loads .env into the process environment. A missing file is fine.
func LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// Load reads a JSON config file, substitutes environment variable
// references and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config JSON after environment substitution.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Actions.TimeoutSec == 0 {
		c.Actions.TimeoutSec = 30
	}
	if c.Executor.ReasonTimeoutSec == 0 {
		c.Executor.ReasonTimeoutSec = 20
	}
	if c.Executor.ReasonRetries == 0 {
		c.Executor.ReasonRetries = 2
	}
	if c.Executor.DispatchTimeoutSec == 0 {
		c.Executor.DispatchTimeoutSec = 120
	}
	if c.Session.ImageCacheSize == 0 {
		c.Session.ImageCacheSize = 64
	}
	if c.Session.HistoryMaxTokens == 0 {
		c.Session.HistoryMaxTokens = 6000
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Session.SnapshotTTLHr == 0 {
		c.Session.SnapshotTTLHr = 24 * 30
	}
	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	for i := range c.Providers {
		if c.Providers[i].Name == "" {
			c.Providers[i].Name = c.Providers[i].ID
		}
	}
}

func (e ExecutorConfig) ReasonTimeout() time.Duration {
	return time.Duration(e.ReasonTimeoutSec) * time.Second
}

func (e ExecutorConfig) DispatchTimeout() time.Duration {
	return time.Duration(e.DispatchTimeoutSec) * time.Second
}

func (a ActionsConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

func (s SessionConfig) SnapshotTTL() time.Duration {
	return time.Duration(s.SnapshotTTLHr) * time.Hour
}
