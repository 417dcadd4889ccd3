// Package config provides unified configuration for the colloquy gateway.
//
// Configuration is loaded in layers:
//  1. Built-in defaults
//  2. A .env file, which only fills variables not already set
//  3. YAML config file (explicit path, COLLOQUY_CONFIG, ./config.yaml,
//     /etc/colloquy/config.yaml)
//  4. COLLOQUY_* environment overrides
//  5. File references (_file suffix fields)
//  6. Validation
package config

import "time"

// Config holds all configuration for the gateway.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Models      ModelsConfig      `yaml:"models"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int           `yaml:"port"`                // default: 8080
	MaxBodySize       int64         `yaml:"max_body_size"`       // default: 1 MiB
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"` // default: 10s
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`    // default: 30s
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Type       string         `yaml:"type"`        // "memory" or "postgres", default: "memory"
	MaxThreads int            `yaml:"max_threads"` // memory store LRU bound, 0 = unbounded
	Postgres   PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// ProvidersConfig holds per-vendor endpoint settings. Vendor keys are never
// configured here; users bring their own.
type ProvidersConfig struct {
	OpenAI    VendorConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Gemini    VendorConfig    `yaml:"gemini"`
}

// VendorConfig is the endpoint of one vendor API.
type VendorConfig struct {
	BaseURL string        `yaml:"base_url"` // empty selects the public API
	Timeout time.Duration `yaml:"timeout"`  // default: 60s, streams excluded
}

// AnthropicConfig adds the Anthropic specific knobs.
type AnthropicConfig struct {
	VendorConfig     `yaml:",inline"`
	Version          string `yaml:"version"`
	DefaultMaxTokens int    `yaml:"default_max_tokens"`
}

// AuthConfig selects how callers of the gateway are identified.
type AuthConfig struct {
	Type    string         `yaml:"type"`    // "none", "api_key" or "jwt", default: "none"
	Subject string         `yaml:"subject"` // user of type "none", default: "local"
	APIKeys []APIKeyConfig `yaml:"api_keys"`
	JWT     JWTConfig      `yaml:"jwt"`
}

// APIKeyConfig describes a single gateway API key.
type APIKeyConfig struct {
	Key     string   `yaml:"key" json:"key"`
	KeyFile string   `yaml:"key_file" json:"key_file"`
	Subject string   `yaml:"subject" json:"subject"`
	Scopes  []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig configures bearer JWT validation.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	Secret      string        `yaml:"secret"`
	SecretFile  string        `yaml:"secret_file"`
	JWKSURL     string        `yaml:"jwks_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	UserClaim   string        `yaml:"user_claim"`
	ScopesClaim string        `yaml:"scopes_claim"`
}

// RateLimitConfig bounds how often one user may send messages.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"` // default: 60, 0 disables
	Burst     int `yaml:"burst"`      // default: per_minute
}

// ModelsConfig holds model catalog settings.
type ModelsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"` // default: 24h
}

// CredentialsConfig holds the age identity that seals vendor keys at rest.
type CredentialsConfig struct {
	Identity     string `yaml:"identity"`
	IdentityFile string `yaml:"identity_file"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Debug  string `yaml:"debug"`  // debug categories, comma separated
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			MaxBodySize:       1 << 20,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns:       10,
				MigrateOnStart: true,
			},
		},
		Providers: ProvidersConfig{
			OpenAI:    VendorConfig{Timeout: 60 * time.Second},
			Anthropic: AnthropicConfig{VendorConfig: VendorConfig{Timeout: 60 * time.Second}},
			Gemini:    VendorConfig{Timeout: 60 * time.Second},
		},
		Auth: AuthConfig{
			Type:    "none",
			Subject: "local",
		},
		RateLimit: RateLimitConfig{PerMinute: 60},
		Models:    ModelsConfig{CacheTTL: 24 * time.Hour},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
