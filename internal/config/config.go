package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the mjnet server.
type Config struct {
	Port      int
	Version   string
	Agent     AgentConfig
	Database  DatabaseConfig
	Registry  RegistryConfig
	Discovery DiscoveryConfig
	Sessions  SessionConfig
	Generator GeneratorConfig
	Telemetry TelemetryConfig
}

// AgentConfig identifies the local user this node speaks for.
type AgentConfig struct {
	UserID       int64
	UserName     string
	Capabilities []string
}

type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty selects the
	// in-memory store (zero-config single-node mode).
	URL            string
	MaxConnections int
}

type RegistryConfig struct {
	// RedisURL selects the shared Redis-backed presence registry.
	// Empty selects the in-process registry.
	RedisURL string
	// TTL is the presence entry lifetime; it is also the authoritative
	// staleness window for "is this peer online".
	TTL time.Duration
}

type DiscoveryConfig struct {
	Port         int
	ProbeTimeout time.Duration
	ScanInterval time.Duration
	ProbeBatch   int
	Subnet       string // optional CIDR override for the prober
}

type SessionConfig struct {
	ProcessorInterval time.Duration
	DefaultMaxTurns   int
	DefaultTTL        time.Duration
}

type GeneratorConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("MJNET_PORT", 8080),
		Version: envStr("MJNET_VERSION", "0.1.0"),
		Agent: AgentConfig{
			UserID:       int64(envInt("MJNET_USER_ID", 1)),
			UserName:     envStr("MJNET_USER_NAME", envStr("USER", "mj-user")),
			Capabilities: strings.Split(envStr("MJNET_CAPABILITIES", "chat,status_updates,friend_requests"), ","),
		},
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Registry: RegistryConfig{
			RedisURL: envStr("REDIS_URL", ""),
			TTL:      envDur("MJNET_REGISTRY_TTL", time.Minute),
		},
		Discovery: DiscoveryConfig{
			Port:         envInt("MJNET_DISCOVERY_PORT", 8888),
			ProbeTimeout: envDur("MJNET_PROBE_TIMEOUT", 2*time.Second),
			ScanInterval: envDur("MJNET_SCAN_INTERVAL", 30*time.Second),
			ProbeBatch:   envInt("MJNET_PROBE_BATCH", 20),
			Subnet:       envStr("MJNET_SUBNET", ""),
		},
		Sessions: SessionConfig{
			ProcessorInterval: envDur("MJNET_PROCESSOR_INTERVAL", time.Second),
			DefaultMaxTurns:   envInt("MJNET_DEFAULT_MAX_TURNS", 10),
			DefaultTTL:        envDur("MJNET_SESSION_TTL", time.Hour),
		},
		Generator: GeneratorConfig{
			BaseURL:     envStr("GENERATOR_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      envStr("GENERATOR_API_KEY", ""),
			Model:       envStr("GENERATOR_MODEL", "gpt-4o-mini"),
			Temperature: envFloat("GENERATOR_TEMPERATURE", 0.8),
			MaxTokens:   envInt("GENERATOR_MAX_TOKENS", 300),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "mjnet-server"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
