package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COLLOQUY_"

// Load loads configuration from defaults, ./.env, the YAML file, the
// environment and file references, then validates it. configPath may be
// empty to use discovery.
func Load(configPath string) (*Config, error) {
	return load(configPath, ".env")
}

func load(configPath, envFile string) (*Config, error) {
	cfg := Defaults()

	// godotenv.Load never overrides variables that are already set.
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
	}

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// discoverConfigFile returns the explicit path, COLLOQUY_CONFIG, or the first
// existing default location. It returns "" when there is no file.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	for _, p := range []string{"config.yaml", "/etc/colloquy/config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadYAMLFile decodes path over cfg. Keys absent from the file keep their
// current values. Unknown keys are rejected.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envSetter applies one variable. It is only called for non-empty values.
type envSetter func(cfg *Config, v string) error

var envOverrides = map[string]envSetter{
	"PORT":                  intVar(func(c *Config) *int { return &c.Server.Port }),
	"SHUTDOWN_TIMEOUT":      durationVar(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout }),
	"STORAGE_TYPE":          stringVar(func(c *Config) *string { return &c.Storage.Type }),
	"POSTGRES_DSN":          stringVar(func(c *Config) *string { return &c.Storage.Postgres.DSN }),
	"OPENAI_BASE_URL":       stringVar(func(c *Config) *string { return &c.Providers.OpenAI.BaseURL }),
	"ANTHROPIC_BASE_URL":    stringVar(func(c *Config) *string { return &c.Providers.Anthropic.BaseURL }),
	"GEMINI_BASE_URL":       stringVar(func(c *Config) *string { return &c.Providers.Gemini.BaseURL }),
	"AUTH_TYPE":             stringVar(func(c *Config) *string { return &c.Auth.Type }),
	"AUTH_SUBJECT":          stringVar(func(c *Config) *string { return &c.Auth.Subject }),
	"JWT_ISSUER":            stringVar(func(c *Config) *string { return &c.Auth.JWT.Issuer }),
	"JWT_AUDIENCE":          stringVar(func(c *Config) *string { return &c.Auth.JWT.Audience }),
	"JWT_SECRET":            stringVar(func(c *Config) *string { return &c.Auth.JWT.Secret }),
	"JWT_JWKS_URL":          stringVar(func(c *Config) *string { return &c.Auth.JWT.JWKSURL }),
	"RATE_LIMIT_PER_MINUTE": intVar(func(c *Config) *int { return &c.RateLimit.PerMinute }),
	"RATE_LIMIT_BURST":      intVar(func(c *Config) *int { return &c.RateLimit.Burst }),
	"MODELS_CACHE_TTL":      durationVar(func(c *Config) *time.Duration { return &c.Models.CacheTTL }),
	"AGE_IDENTITY":          stringVar(func(c *Config) *string { return &c.Credentials.Identity }),
	"AGE_IDENTITY_FILE":     stringVar(func(c *Config) *string { return &c.Credentials.IdentityFile }),
	"LOG_FORMAT":            stringVar(func(c *Config) *string { return &c.Logging.Format }),
	"API_KEYS": func(c *Config, v string) error {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return fmt.Errorf("parsing JSON: %w", err)
		}
		c.Auth.APIKeys = keys
		return nil
	},
}

// applyEnvOverrides applies every set COLLOQUY_* variable of envOverrides.
// COLLOQUY_LOG_LEVEL and COLLOQUY_DEBUG are read by the debug package.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for name, set := range envOverrides {
		v := strings.TrimSpace(os.Getenv(EnvPrefix + name))
		if v == "" {
			continue
		}
		if err := set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
	}
	return errors.Join(errs...)
}

func stringVar(field func(*Config) *string) envSetter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func intVar(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// resolveFileReferences fills each value from its _file field when the value
// itself is empty.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, struct {
			name  string
			file  string
			value *string
		}{fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile returns the file content without surrounding whitespace.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
