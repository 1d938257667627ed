package main

import (
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/adamdsmith/fwspp/internal/boundary"
	"github.com/adamdsmith/fwspp/internal/config"
	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/pipeline"
	"github.com/adamdsmith/fwspp/internal/resilience"
	"github.com/adamdsmith/fwspp/internal/source"
	"github.com/adamdsmith/fwspp/internal/taxonomy"
)

const userAgent = "fwspp/1.0 (+https://github.com/adamdsmith/fwspp)"

func newFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    userAgent,
		Timeout:      90 * time.Second,
		DefaultRate:  rate.Limit(2),
		DefaultBurst: 1,
	})
}

func sourceRetry(c *config.Config) resilience.RetryConfig {
	r := c.Retry
	return resilience.FromRetryConfig(resilience.SourceRetryConfig(),
		r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

// repositories returns the registry with configured overrides applied.
func repositories(c *config.Config) ([]source.Repository, error) {
	repos, err := source.ListRepositories()
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]source.Override, len(c.Sources))
	for key, o := range c.Sources {
		overrides[key] = source.Override{
			BaseURL:   o.BaseURL,
			RateLimit: o.RateLimit,
			Burst:     o.Burst,
			Cap:       o.Cap,
			PageSize:  o.PageSize,
		}
	}
	return source.ApplyOverrides(repos, overrides)
}

// buildSources creates adapters for every repository and selects names, or
// all of them when names is empty.
func buildSources(c *config.Config, f fetcher.Fetcher, names []string) ([]source.Source, error) {
	repos, err := repositories(c)
	if err != nil {
		return nil, err
	}
	reg, err := source.Build(repos, f, sourceRetry(c))
	if err != nil {
		return nil, err
	}
	return reg.Select(names)
}

func newBreakers(c *config.Config) *resilience.RepositoryBreakers {
	return resilience.NewRepositoryBreakers(
		resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs))
}

func newBoundaries(c *config.Config) *boundary.Shapefiles {
	return boundary.NewShapefiles(map[model.BoundaryKind]boundary.Dataset{
		model.BoundaryAdmin: {
			Path:      c.Boundary.Admin.Path,
			NameField: c.Boundary.Admin.NameField,
		},
		model.BoundaryAcquisition: {
			Path:      c.Boundary.Acquisition.Path,
			NameField: c.Boundary.Acquisition.NameField,
		},
	})
}

func newLinker(c *config.Config, f *fetcher.HTTPFetcher) (*taxonomy.Linker, error) {
	t := c.Taxonomy
	if t.RateLimit > 0 {
		if err := f.SetRateLimit(t.BaseURL, t.RateLimit, 1); err != nil {
			return nil, eris.Wrap(err, "taxonomy rate limit")
		}
	}
	itis := taxonomy.NewITIS(t.BaseURL, f, resilience.DefaultRetryConfig())
	return taxonomy.NewLinker(itis, taxonomy.Config{
		SimilarityThreshold: t.SimilarityThreshold,
		MaxCandidates:       t.MaxCandidates,
		CacheTTL:            time.Duration(t.CacheTTLHours) * time.Hour,
	}), nil
}

func newEngine(c *config.Config, opts pipeline.Options) *source.Engine {
	return source.NewEngine(newBreakers(c), opts.Timeout())
}
