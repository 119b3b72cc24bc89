package auth

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/xscopehub/modelmcp/internal/config"
)

// Header names used by the MCP endpoint.
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
	HeaderInternal      = "X-MCP-Internal"
)

// ErrUnauthorized is returned when a request fails authentication.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator checks inbound requests against the configured strategy.
type Authenticator struct {
	cfg config.AuthConfig

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time
	client    *http.Client
}

// New creates an authenticator using the provided configuration. The jwt
// strategy fetches the key set eagerly so misconfiguration fails at startup.
func New(cfg config.AuthConfig) (*Authenticator, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = config.AuthNone
	}
	a := &Authenticator{cfg: cfg}
	switch cfg.Strategy {
	case config.AuthNone:
	case config.AuthToken:
		if cfg.Token == "" {
			return nil, fmt.Errorf("token required for token strategy")
		}
	case config.AuthAPIKey:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api_key required for api_key strategy")
		}
	case config.AuthJWT:
		if cfg.JWKSURL == "" {
			return nil, fmt.Errorf("jwks_url required for jwt strategy")
		}
		a.client = &http.Client{Timeout: 10 * time.Second}
		if cfg.InsecureTLS {
			a.client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} // #nosec G402
		}
		if err := a.refresh(context.Background()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown auth strategy: %s", cfg.Strategy)
	}
	return a, nil
}

// Strategy returns the configured strategy name.
func (a *Authenticator) Strategy() string {
	if a == nil {
		return config.AuthNone
	}
	return a.cfg.Strategy
}

// Verify authenticates r and returns the client identity used for rate
// limiting and audit.
func (a *Authenticator) Verify(r *http.Request) (string, error) {
	switch a.Strategy() {
	case config.AuthToken:
		token, ok := bearer(r)
		if !ok || !secureCompare(token, a.cfg.Token) {
			return "", ErrUnauthorized
		}
		return "token", nil
	case config.AuthAPIKey:
		key := r.Header.Get(HeaderAPIKey)
		if key == "" || !secureCompare(key, a.cfg.APIKey) {
			return "", ErrUnauthorized
		}
		return "api_key", nil
	case config.AuthJWT:
		return a.verifyJWT(r)
	default:
		return clientIP(r), nil
	}
}

func (a *Authenticator) verifyJWT(r *http.Request) (string, error) {
	tokenString, ok := bearer(r)
	if !ok {
		return "", ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	set, err := a.getKeySet(ctx)
	if err != nil {
		return "", err
	}

	options := []jwt.ParseOption{jwt.WithKeySet(set), jwt.WithValidate(true)}
	for _, aud := range a.cfg.Audience {
		if aud != "" {
			options = append(options, jwt.WithAudience(aud))
		}
	}
	if a.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(a.cfg.Issuer))
	}

	token, err := jwt.ParseString(tokenString, options...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if user := claimAsString(token, a.cfg.UserClaim, "sub"); user != "" {
		return user, nil
	}
	return clientIP(r), nil
}

func (a *Authenticator) getKeySet(ctx context.Context) (jwk.Set, error) {
	ttl := a.cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	a.mu.RLock()
	set := a.set
	fetched := a.fetchedAt
	a.mu.RUnlock()

	if set != nil && time.Since(fetched) < ttl {
		return set, nil
	}

	if err := a.refresh(ctx); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.set == nil {
		return nil, errors.New("jwks not loaded")
	}
	return a.set, nil
}

func (a *Authenticator) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	set, err := jwk.Fetch(ctx, a.cfg.JWKSURL, jwk.WithHTTPClient(a.client))
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.set = set
	a.fetchedAt = time.Now()
	return nil
}

func claimAsString(token jwt.Token, claim string, fallback string) string {
	if claim == "" {
		claim = fallback
	}
	if value, ok := token.Get(claim); ok {
		switch v := value.(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		case []string:
			if len(v) > 0 {
				return v[0]
			}
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func bearer(r *http.Request) (string, bool) {
	header := r.Header.Get(HeaderAuthorization)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// clientIP returns the peer address. Forwarding headers are client supplied
// and are only honoured by the HTTP host for configured trusted proxies.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ApplyOutbound sets the credentials a client needs to call an endpoint
// protected by cfg, plus the internal marker header.
func ApplyOutbound(h http.Header, cfg config.AuthConfig) {
	h.Set(HeaderInternal, "true")
	switch cfg.Strategy {
	case config.AuthToken, config.AuthJWT:
		if cfg.Token != "" {
			h.Set(HeaderAuthorization, "Bearer "+cfg.Token)
		}
	case config.AuthAPIKey:
		if cfg.APIKey != "" {
			h.Set(HeaderAPIKey, cfg.APIKey)
		}
	}
}
