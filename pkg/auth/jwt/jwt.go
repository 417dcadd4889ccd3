// Package jwt authenticates callers by bearer JWTs. Tokens are verified
// either with a shared HMAC secret (HS256/384/512) or with RSA keys from a
// JWKS endpoint (RS256/384/512). The user claim becomes the identity subject.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/colloquy/pkg/auth"
	"github.com/rhuss/colloquy/pkg/debug"
)

// Config holds the JWT authenticator configuration. At least one of Secret
// and JWKSURL must be set.
type Config struct {
	Issuer   string // empty disables the iss check
	Audience string // empty disables the aud check

	// Secret verifies HMAC-signed tokens.
	Secret string

	// JWKSURL serves the RSA keys that verify RSA-signed tokens.
	JWKSURL  string
	CacheTTL time.Duration // default 1h

	UserClaim   string // default "sub"
	ScopesClaim string // default "scope"; space separated string or array

	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

// Authenticator validates bearer JWTs.
type Authenticator struct {
	cfg     Config
	methods []string
	jwks    *keySet
}

// New creates a JWT authenticator.
func New(cfg Config) (*Authenticator, error) {
	cfg.applyDefaults()
	a := &Authenticator{cfg: cfg}
	if cfg.Secret != "" {
		a.methods = append(a.methods, "HS256", "HS384", "HS512")
	}
	if cfg.JWKSURL != "" {
		a.methods = append(a.methods, "RS256", "RS384", "RS512")
		a.jwks = &keySet{url: cfg.JWKSURL, ttl: cfg.CacheTTL, client: cfg.HTTPClient}
	}
	if len(a.methods) == 0 {
		return nil, errors.New("jwt: secret or jwks_url is required")
	}
	return a, nil
}

// Authenticate abstains without a bearer token and rejects tokens that do
// not verify.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if raw == "" {
		return auth.Result{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		return a.verificationKey(ctx, t)
	}, a.parserOptions()...)
	if err != nil {
		debug.Log("auth", "jwt rejected", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	subject, _ := claims[a.cfg.UserClaim].(string)
	if subject == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("JWT missing %q claim", a.cfg.UserClaim)}
	}
	return auth.Result{Decision: auth.Yes, Identity: &auth.Identity{
		Subject: subject,
		Scopes:  scopes(claims[a.cfg.ScopesClaim]),
		Source:  "jwt",
	}}
}

func (a *Authenticator) verificationKey(ctx context.Context, t *jwtlib.Token) (any, error) {
	switch t.Method.(type) {
	case *jwtlib.SigningMethodHMAC:
		if a.cfg.Secret == "" {
			return nil, errors.New("HMAC tokens are not accepted")
		}
		return []byte(a.cfg.Secret), nil
	case *jwtlib.SigningMethodRSA:
		if a.jwks == nil {
			return nil, errors.New("RSA tokens are not accepted")
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.jwks.key(ctx, kid)
	default:
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
}

func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods(a.methods), jwtlib.WithExpirationRequired()}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.cfg.Audience))
	}
	return opts
}

func scopes(v any) []string {
	switch s := v.(type) {
	case string:
		if f := strings.Fields(s); len(f) > 0 {
			return f
		}
	case []any:
		var out []string
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// keySet caches the RSA keys of a JWKS endpoint. An unknown kid triggers a
// refetch, so rotated keys are picked up before the TTL expires.
type keySet struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (s *keySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[kid]; ok && time.Since(s.fetchedAt) < s.ttl {
		return k, nil
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	k, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}
	return k, nil
}

// refresh must be called with s.mu held.
func (s *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("creating JWKS request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKey(k.N, k.E)
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	s.keys = keys
	s.fetchedAt = time.Now()
	debug.Log("auth", "JWKS refreshed", "keys", len(keys), "url", s.url)
	return nil
}

func rsaKey(n64, e64 string) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(n64)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(e64)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("RSA exponent too large")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
