package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xscopehub/modelmcp/internal/config"
)

func request(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestNoneStrategy(t *testing.T) {
	a, err := New(config.AuthConfig{})
	require.NoError(t, err)
	client, err := a.Verify(request(nil))
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", client)
}

func TestTokenStrategy(t *testing.T) {
	a, err := New(config.AuthConfig{Strategy: config.AuthToken, Token: "s3cret"})
	require.NoError(t, err)

	_, err = a.Verify(request(map[string]string{"Authorization": "Bearer s3cret"}))
	assert.NoError(t, err)
	_, err = a.Verify(request(map[string]string{"Authorization": "bearer s3cret"}))
	assert.NoError(t, err)
	_, err = a.Verify(request(map[string]string{"Authorization": "Bearer wrong"}))
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = a.Verify(request(nil))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAPIKeyStrategy(t *testing.T) {
	a, err := New(config.AuthConfig{Strategy: config.AuthAPIKey, APIKey: "key-1"})
	require.NoError(t, err)

	_, err = a.Verify(request(map[string]string{"X-API-Key": "key-1"}))
	assert.NoError(t, err)
	_, err = a.Verify(request(map[string]string{"Authorization": "Bearer key-1"}))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewRejectsMissingSecret(t *testing.T) {
	_, err := New(config.AuthConfig{Strategy: config.AuthToken})
	assert.Error(t, err)
	_, err = New(config.AuthConfig{Strategy: config.AuthAPIKey})
	assert.Error(t, err)
	_, err = New(config.AuthConfig{Strategy: "basic"})
	assert.Error(t, err)
}

func TestJWTStrategy(t *testing.T) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	private, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, private.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, private.Set(jwk.AlgorithmKey, jwa.RS256))
	public, err := private.PublicKey()
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer jwks.Close()

	a, err := New(config.AuthConfig{Strategy: config.AuthJWT, JWKSURL: jwks.URL, Issuer: "modelmcp-test"})
	require.NoError(t, err)

	tok, err := jwt.NewBuilder().Issuer("modelmcp-test").Subject("agent-7").Expiration(time.Now().Add(time.Hour)).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, private))
	require.NoError(t, err)

	client, err := a.Verify(request(map[string]string{"Authorization": "Bearer " + string(signed)}))
	require.NoError(t, err)
	assert.Equal(t, "agent-7", client)

	_, err = a.Verify(request(map[string]string{"Authorization": "Bearer not-a-jwt"}))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestApplyOutbound(t *testing.T) {
	h := http.Header{}
	ApplyOutbound(h, config.AuthConfig{Strategy: config.AuthToken, Token: "s3cret"})
	assert.Equal(t, "Bearer s3cret", h.Get("Authorization"))
	assert.Equal(t, "true", h.Get("X-MCP-Internal"))

	h = http.Header{}
	ApplyOutbound(h, config.AuthConfig{Strategy: config.AuthAPIKey, APIKey: "key-1"})
	assert.Equal(t, "key-1", h.Get("X-API-Key"))
	assert.Empty(t, h.Get("Authorization"))

	h = http.Header{}
	ApplyOutbound(h, config.AuthConfig{Strategy: config.AuthNone})
	assert.Empty(t, h.Get("Authorization"))
	assert.Empty(t, h.Get("X-API-Key"))
}
