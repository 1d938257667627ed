package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/adamdsmith/fwspp/internal/resilience"
)

// maxErrorBody bounds how much of a failed response body is kept on a StatusError.
const maxErrorBody = 4096

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// DefaultRate applies to hosts without a registered limiter.
	DefaultRate  rate.Limit
	DefaultBurst int
}

// StatusError is returned for a non-2xx answer that is not retryable. Body
// holds the start of the response so adapters can look for service-specific
// messages such as an empty-result notice.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	if burst < 1 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using net/http with per-host rate limiting.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "fwspp/1.0"
	}
	if opts.DefaultRate == 0 {
		opts.DefaultRate = 5
	}
	if opts.DefaultBurst == 0 {
		opts.DefaultBurst = 5
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// Client exposes the underlying client so tests can swap its transport.
func (f *HTTPFetcher) Client() *http.Client {
	return f.client
}

// SetRateLimit registers an adaptive limiter for the host of baseURL.
func (f *HTTPFetcher) SetRateLimit(baseURL string, rps float64, burst int) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return eris.Wrapf(err, "fetcher: parse base url %q", baseURL)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limiters[u.Host] = NewAdaptiveLimiter(rate.Limit(rps), burst)
	return nil
}

// LimiterFor returns the limiter for host, creating a default one if needed.
func (f *HTTPFetcher) LimiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(f.opts.DefaultRate, f.opts.DefaultBurst)
		f.limiters[host] = lim
	}
	return lim
}

// Get performs one rate-limited GET. Timeouts, 408, 429 and 5xx come back as
// resilience.TransientError; other non-2xx answers as *StatusError.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	lim := f.LimiterFor(u.Host)
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	zap.L().Debug("http get", zap.String("url", u.String()))

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "fetcher: request cancelled")
		}
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetcher: get %s", u.Host), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), 0)
		}
		lim.OnSuccess()
		return body, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{URL: u.String(), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.OnRateLimit()
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
	}
	return nil, statusErr
}

// GetJSON performs Get and decodes the JSON body into out.
func (f *HTTPFetcher) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	body, err := f.Get(ctx, rawURL, query)
	if err != nil {
		return err
	}
	if err := decodeInto(body, out); err != nil {
		return resilience.Permanent(eris.Wrapf(err, "fetcher: decode %s", rawURL))
	}
	return nil
}

// AsStatusError extracts a *StatusError from err's chain.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
