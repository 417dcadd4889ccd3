// Command server runs the colloquy chat gateway.
//
// Configuration is read from a YAML file (--config, COLLOQUY_CONFIG,
// ./config.yaml or /etc/colloquy/config.yaml), a .env file and COLLOQUY_*
// environment variables. See pkg/config for the full list.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rhuss/colloquy/pkg/auth"
	"github.com/rhuss/colloquy/pkg/auth/apikey"
	"github.com/rhuss/colloquy/pkg/auth/jwt"
	"github.com/rhuss/colloquy/pkg/auth/noop"
	"github.com/rhuss/colloquy/pkg/config"
	"github.com/rhuss/colloquy/pkg/debug"
	"github.com/rhuss/colloquy/pkg/engine"
	"github.com/rhuss/colloquy/pkg/keys"
	"github.com/rhuss/colloquy/pkg/keys/seal"
	"github.com/rhuss/colloquy/pkg/models"
	"github.com/rhuss/colloquy/pkg/provider"
	"github.com/rhuss/colloquy/pkg/provider/anthropic"
	"github.com/rhuss/colloquy/pkg/provider/gemini"
	"github.com/rhuss/colloquy/pkg/provider/openai"
	"github.com/rhuss/colloquy/pkg/storage"
	"github.com/rhuss/colloquy/pkg/storage/memory"
	"github.com/rhuss/colloquy/pkg/storage/postgres"
	transporthttp "github.com/rhuss/colloquy/pkg/transport/http"
)

func main() {
	flags := pflag.NewFlagSet("colloquy", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the YAML config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	debug.Init(debug.Options{
		Categories: cfg.Logging.Debug,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	sealer, err := newSealer(cfg.Credentials)
	if err != nil {
		return err
	}

	adapters := newAdapters(cfg.Providers)
	creds := keys.New(store, sealer, adapters)
	catalog := models.New(store, creds, adapters, cfg.Models.CacheTTL)

	eng, err := engine.New(store, adapters, creds, engine.Config{
		Limiter: auth.NewLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		Models:  catalog,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	authMW, err := newAuth(cfg.Auth)
	if err != nil {
		return err
	}

	srv := transporthttp.NewServer(transporthttp.Services{
		Chat:    eng,
		Threads: eng,
		Keys:    creds,
		Models:  catalog,
		Audit:   store,
		Ready:   store.HealthCheck,
	},
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithAuth(authMW),
	)

	slog.Info("colloquy starting",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
		"rate_limit_per_minute", cfg.RateLimit.PerMinute,
	)
	return srv.Run(ctx)
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres", "max_conns", cfg.Postgres.MaxConns)
		return s, nil
	default:
		slog.Info("storage enabled", "type", "memory", "max_threads", cfg.MaxThreads)
		return memory.New(cfg.MaxThreads), nil
	}
}

func newSealer(cfg config.CredentialsConfig) (*seal.Sealer, error) {
	switch {
	case cfg.Identity != "":
		return seal.New(cfg.Identity)
	case cfg.IdentityFile != "":
		return seal.FromFile(cfg.IdentityFile)
	}
	s, err := seal.Ephemeral()
	if err != nil {
		return nil, err
	}
	slog.Warn("no credentials identity configured, stored keys will not survive a restart",
		"recipient", s.Recipient())
	return s, nil
}

func newAdapters(cfg config.ProvidersConfig) *provider.Adapters {
	return &provider.Adapters{
		OpenAI: openai.New(openai.Config{ClientConfig: provider.ClientConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: cfg.OpenAI.Timeout,
		}}),
		Anthropic: anthropic.New(anthropic.Config{
			ClientConfig: provider.ClientConfig{
				BaseURL: cfg.Anthropic.BaseURL,
				Timeout: cfg.Anthropic.Timeout,
			},
			Version:   cfg.Anthropic.Version,
			MaxTokens: cfg.Anthropic.DefaultMaxTokens,
		}),
		Gemini: gemini.New(gemini.Config{ClientConfig: provider.ClientConfig{
			BaseURL: cfg.Gemini.BaseURL,
			Timeout: cfg.Gemini.Timeout,
		}}),
	}
}

func newAuth(cfg config.AuthConfig) (func(http.Handler) http.Handler, error) {
	chain := &auth.Chain{Default: auth.No}

	switch cfg.Type {
	case "api_key":
		entries := make([]apikey.Entry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			entries = append(entries, apikey.Entry{Key: k.Key, Subject: k.Subject, Scopes: k.Scopes})
		}
		chain.Authenticators = append(chain.Authenticators, apikey.New(entries))
	case "jwt":
		a, err := jwt.New(jwt.Config{
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			Secret:      cfg.JWT.Secret,
			JWKSURL:     cfg.JWT.JWKSURL,
			CacheTTL:    cfg.JWT.CacheTTL,
			UserClaim:   cfg.JWT.UserClaim,
			ScopesClaim: cfg.JWT.ScopesClaim,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring jwt auth: %w", err)
		}
		chain.Authenticators = append(chain.Authenticators, a)
	default:
		slog.Warn("authentication disabled, every caller is one user", "subject", cfg.Subject)
		chain.Authenticators = append(chain.Authenticators, noop.New(cfg.Subject))
	}
	return auth.Middleware(chain, auth.DefaultBypassEndpoints), nil
}
