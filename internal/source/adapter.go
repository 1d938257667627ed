package source

import (
	"context"
	"net/url"

	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/resilience"
)

// adapter holds what every repository adapter shares: its metadata, the
// transport and the retry policy.
type adapter struct {
	repo  Repository
	f     fetcher.Fetcher
	retry resilience.RetryConfig
}

func newAdapter(repo Repository, f fetcher.Fetcher, retry resilience.RetryConfig) adapter {
	return adapter{repo: repo, f: f, retry: retry}
}

func (a adapter) Name() string { return a.repo.Name }

// Repository returns the adapter's metadata.
func (a adapter) Repository() Repository { return a.repo }

// getJSON issues one logical request against a path below the repository
// base URL through the retry policy and decodes the answer into a fresh T.
func getJSON[T any](ctx context.Context, a adapter, op, path string, q url.Values) (*T, error) {
	return getJSONAt[T](ctx, a, op, a.repo.Endpoint(path), q, nil)
}

// getJSONAt is getJSON for an absolute URL. classify, when set, may rewrite
// each attempt's error before the retry policy sees it.
func getJSONAt[T any](ctx context.Context, a adapter, op, rawURL string, q url.Values, classify func(error) error) (*T, error) {
	return resilience.DoVal(ctx, a.retry.Named(a.repo.Name, op), func(ctx context.Context) (*T, error) {
		var out T
		if err := a.f.GetJSON(ctx, rawURL, q, &out); err != nil {
			if classify != nil {
				err = classify(err)
			}
			return nil, err
		}
		return &out, nil
	})
}
