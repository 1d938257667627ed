package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamdsmith/fwspp/internal/resilience"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:    "test-agent",
		Timeout:      5 * time.Second,
		DefaultRate:  1000,
		DefaultBurst: 100,
	})
}

func TestGet_AppendsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "1", r.URL.Query().Get("keep"))
		assert.Equal(t, "POLYGON((0 0,1 0,1 1,0 0))", r.URL.Query().Get("geometry"))
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	body, err := f.Get(context.Background(), srv.URL+"/data?keep=1", url.Values{
		"geometry": {"POLYGON((0 0,1 0,1 1,0 0))"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count": 12, "results": [{"key": "a"}]}`))
	}))
	defer srv.Close()

	var out struct {
		Count   int `json:"count"`
		Results []struct {
			Key string `json:"key"`
		} `json:"results"`
	}
	require.NoError(t, newTestFetcher().GetJSON(context.Background(), srv.URL, nil, &out))
	assert.Equal(t, 12, out.Count)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "a", out.Results[0].Key)
}

func TestGetJSON_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":`))
	}))
	defer srv.Close()

	var out map[string]any
	err := newTestFetcher().GetJSON(context.Background(), srv.URL, nil, &out)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "unexpected eof")
	assert.False(t, resilience.IsTransient(err), "a truncated body is not retried")
}

func TestGet_ServerErrorIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load(), "fetcher never retries on its own")

	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestGet_ClientErrorKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`  {"error": "No records found"}  `))
	}))
	defer srv.Close()

	_, err := newTestFetcher().Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))

	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, `{"error": "No records found"}`, se.Body)
	assert.Contains(t, se.Error(), "http 404")
}

func TestGet_429SlowsHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestFetcher()
	require.NoError(t, f.SetRateLimit(srv.URL, 100, 100))
	u, _ := url.Parse(srv.URL)
	before := f.LimiterFor(u.Host).Limit()

	_, err := f.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Less(t, float64(f.LimiterFor(u.Host).Limit()), float64(before))
}

func TestGet_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher().Get(ctx, srv.URL, nil)
	require.Error(t, err)
}

func TestGet_InvalidURL(t *testing.T) {
	_, err := newTestFetcher().Get(context.Background(), "://bad", nil)
	assert.Error(t, err)
}

func TestSetRateLimit_InvalidURL(t *testing.T) {
	assert.Error(t, newTestFetcher().SetRateLimit("://bad", 1, 1))
}

func TestLimiterFor_UnknownHostGetsDefault(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{DefaultRate: 7, DefaultBurst: 3})
	lim := f.LimiterFor("example.org")
	assert.InDelta(t, 7.0, float64(lim.Limit()), 0.001)
	assert.Same(t, lim, f.LimiterFor("example.org"))
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "fwspp/1.0", f.opts.UserAgent)
	assert.Equal(t, 60*time.Second, f.client.Timeout)
}

func TestHTTPTransport_PoolingConfig(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{UserAgent: "test"})
	transport, ok := f.Client().Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 10, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 20, transport.MaxConnsPerHost)
}

// --- AdaptiveLimiter Tests ---

func TestAdaptiveLimiter_OnSuccess_IncreasesRate(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)

	lim.OnSuccess()
	assert.InDelta(t, 12.0, float64(lim.Limit()), 0.1)

	lim.OnSuccess()
	assert.InDelta(t, 14.4, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_OnRateLimit_DecreasesRate(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)

	lim.OnRateLimit()
	assert.InDelta(t, 5.0, float64(lim.Limit()), 0.1)

	lim.OnRateLimit()
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)
	for range 20 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.1)

	for range 20 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_Wait_ContextCancelled(t *testing.T) {
	lim := NewAdaptiveLimiter(0.001, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, lim.Wait(ctx))
}

func TestDecodeInto_KeepsNumbers(t *testing.T) {
	var obj map[string]any
	require.NoError(t, decodeInto([]byte(`{"decimalLatitude": 38.123456789012}`), &obj))
	assert.Equal(t, "38.123456789012", obj["decimalLatitude"].(interface{ String() string }).String())
}
