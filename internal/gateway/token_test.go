package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"signflow/internal/common/errors"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "plugin",
		"exp": exp.Unix(),
	}).SignedString([]byte("provider-secret"))
	require.NoError(t, err)
	return token
}

func TestStaticToken(t *testing.T) {
	token, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = StaticToken("").Token(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrTypeConfiguration))
}

func TestClientCredentials_UsesJWTExpiry(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	access := signedToken(t, exp)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "client-1", r.Form.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"expires_in":60,"token_type":"Bearer"}`, access)
	}))
	defer server.Close()

	provider := NewClientCredentials(ClientCredentialsConfig{
		TokenURL:     server.URL,
		ClientID:     "client-1",
		ClientSecret: "secret",
	}, nil)

	token, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, token)
	assert.True(t, provider.ExpiresAt().Equal(exp))

	again, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientCredentials_ExpiresInFallbackAndRefresh(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		fmt.Fprintf(w, `{"access_token":"opaque-%d","expires_in":120}`, n)
	}))
	defer server.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := NewClientCredentials(ClientCredentialsConfig{
		TokenURL:     server.URL,
		ClientID:     "c",
		ClientSecret: "s",
	}, nil)
	provider.now = func() time.Time { return now }

	token, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-1", token)
	assert.Equal(t, now.Add(2*time.Minute), provider.ExpiresAt())

	// Inside the refresh buffer the token is fetched again
	now = now.Add(100 * time.Second)
	token, err = provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-2", token)
}

func TestClientCredentials_Failures(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		_, err := NewClientCredentials(ClientCredentialsConfig{TokenURL: "http://x"}, nil).Token(context.Background())
		assert.True(t, errors.IsType(err, errors.ErrTypeConfiguration))
	})

	t.Run("rejected credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_client"}`))
		}))
		defer server.Close()

		_, err := NewClientCredentials(ClientCredentialsConfig{TokenURL: server.URL, ClientID: "c", ClientSecret: "s"}, nil).Token(context.Background())
		assert.True(t, errors.IsType(err, errors.ErrTypeConfiguration))
		assert.False(t, errors.IsRetryable(err))
	})

	t.Run("token endpoint down", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := NewClientCredentials(ClientCredentialsConfig{TokenURL: server.URL, ClientID: "c", ClientSecret: "s"}, nil).Token(context.Background())
		assert.True(t, errors.IsType(err, errors.ErrTypeServerUnavailable))
		assert.True(t, errors.IsRetryable(err))
	})
}

func TestJWTExpiry(t *testing.T) {
	_, ok := jwtExpiry("opaque-token")
	assert.False(t, ok)

	_, ok = jwtExpiry("a.b.c")
	assert.False(t, ok)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := jwtExpiry(signedToken(t, exp))
	assert.True(t, ok)
	assert.True(t, got.Equal(exp))
}
