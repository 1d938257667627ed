// Package fetcher is the rate-limited HTTP transport shared by the
// repository adapters and the taxonomy linker. Each call is a single attempt;
// retry policy lives in the resilience package.
package fetcher

import (
	"context"
	"net/url"
)

// Fetcher issues GET requests against repository APIs.
type Fetcher interface {
	// Get fetches rawURL with the query parameters appended and returns the
	// response body. Non-2xx answers are returned as errors.
	Get(ctx context.Context, rawURL string, query url.Values) ([]byte, error)

	// GetJSON is Get followed by decoding the body into out.
	GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error
}
