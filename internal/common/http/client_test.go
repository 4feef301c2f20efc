package http

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_Defaults(t *testing.T) {
	client := NewHTTPClient()
	assert.Equal(t, 15*time.Second, client.Timeout)

	ua, ok := client.Transport.(userAgent)
	require.True(t, ok)
	assert.Equal(t, defaultUserAgent, ua.value)

	transport, ok := ua.next.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, uint16(tls.VersionTLS12), transport.TLSClientConfig.MinVersion)
	assert.Equal(t, 16, transport.MaxConnsPerHost)
}

func TestNewHTTPClient_Options(t *testing.T) {
	client := NewHTTPClient(WithTimeout(2*time.Second), WithMaxConnsPerHost(3), WithTimeout(0))
	assert.Equal(t, 2*time.Second, client.Timeout)

	transport, ok := client.Transport.(userAgent).next.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 3, transport.MaxConnsPerHost)
	assert.Equal(t, 3, transport.MaxIdleConnsPerHost)
}

func TestNewHTTPClient_UserAgent(t *testing.T) {
	var got []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("User-Agent"))
	}))
	defer server.Close()

	client := NewHTTPClient(WithClientIdentity("plugin-42"))

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "caller")
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"signflow/1.0 (plugin-42)", "caller"}, got)
}

func TestWithTransport(t *testing.T) {
	custom := &http.Transport{}
	client := NewHTTPClient(WithTransport(custom))
	assert.Same(t, custom, client.Transport.(userAgent).next)
}
