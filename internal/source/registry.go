package source

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/resilience"
)

// Registry maps repository names to their adapters.
type Registry struct {
	sources map[string]Source
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source. Names are matched case-insensitively.
func (r *Registry) Register(s Source) {
	key := strings.ToLower(s.Name())
	if _, ok := r.sources[key]; !ok {
		r.order = append(r.order, key)
	}
	r.sources[key] = s
}

// Get returns a source by name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, eris.Errorf("source: unknown repository %q", name)
	}
	return s, nil
}

// Select returns the named sources, or all of them when names is empty.
func (r *Registry) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	result := make([]Source, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		if seen[s.Name()] {
			continue
		}
		seen[s.Name()] = true
		result = append(result, s)
	}
	return result, nil
}

// All returns all sources in registration order.
func (r *Registry) All() []Source {
	result := make([]Source, 0, len(r.order))
	for _, key := range r.order {
		result = append(result, r.sources[key])
	}
	return result
}

// Names returns all registered repository names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.sources[key].Name())
	}
	return out
}

// constructors maps registry keys to adapter constructors.
var constructors = map[string]func(Repository, fetcher.Fetcher, resilience.RetryConfig) Source{
	"gbif":      func(r Repository, f fetcher.Fetcher, c resilience.RetryConfig) Source { return NewGBIF(r, f, c) },
	"bison":     func(r Repository, f fetcher.Fetcher, c resilience.RetryConfig) Source { return NewBISON(r, f, c) },
	"idigbio":   func(r Repository, f fetcher.Fetcher, c resilience.RetryConfig) Source { return NewIDigBio(r, f, c) },
	"vertnet":   func(r Repository, f fetcher.Fetcher, c resilience.RetryConfig) Source { return NewVertNet(r, f, c) },
	"ecoengine": func(r Repository, f fetcher.Fetcher, c resilience.RetryConfig) Source { return NewEcoEngine(r, f, c) },
	"antweb":    func(r Repository, f fetcher.Fetcher, c resilience.RetryConfig) Source { return NewAntWeb(r, f, c) },
}

// RateLimited is satisfied by transports that accept per-host limits.
type RateLimited interface {
	SetRateLimit(baseURL string, rps float64, burst int) error
}

// Build creates an adapter for each repository and registers each
// repository's rate limit with f when f supports it.
func Build(repos []Repository, f fetcher.Fetcher, retry resilience.RetryConfig) (*Registry, error) {
	reg := NewRegistry()
	rl, limited := f.(RateLimited)
	for _, repo := range repos {
		ctor, ok := constructors[repo.Key]
		if !ok {
			return nil, eris.Errorf("source: no adapter for repository %q", repo.Key)
		}
		if limited && repo.RateLimit > 0 {
			if err := rl.SetRateLimit(repo.BaseURL, repo.RateLimit, repo.Burst); err != nil {
				return nil, err
			}
		}
		reg.Register(ctor(repo, f, retry))
	}
	return reg, nil
}
