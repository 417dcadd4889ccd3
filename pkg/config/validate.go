package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
		// Keys sealed with a throwaway identity would not survive a restart.
		if c.Credentials.Identity == "" && c.Credentials.IdentityFile == "" {
			errs = append(errs, errors.New("credentials.identity or credentials.identity_file is required when storage.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.MaxThreads < 0 {
		errs = append(errs, fmt.Errorf("storage.max_threads must be >= 0, got %d", c.Storage.MaxThreads))
	}

	switch c.Auth.Type {
	case "none":
	case "api_key":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, errors.New("auth.api_keys must not be empty when auth.type is \"api_key\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, errors.New("auth.jwt.secret, secret_file or jwks_url is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"api_key\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.RateLimit.PerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.per_minute must be >= 0, got %d", c.RateLimit.PerMinute))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.burst must be >= 0, got %d", c.RateLimit.Burst))
	}
	if c.Models.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("models.cache_ttl must be >= 0, got %v", c.Models.CacheTTL))
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
