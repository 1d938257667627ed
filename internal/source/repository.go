package source

import (
	_ "embed"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var registryYAML []byte

// QueryMode names the spatial query shape a repository accepts.
type QueryMode string

const (
	ModeWKT            QueryMode = "wkt"
	ModeBBox           QueryMode = "bbox"
	ModeGeoBoundingBox QueryMode = "geo_bounding_box"
	ModeRadius         QueryMode = "radius"
	ModeBBoxString     QueryMode = "bbox_string"
	ModeBBoxCapped     QueryMode = "bbox_capped"
)

// Repository is the static metadata for one repository.
type Repository struct {
	Key         string    `yaml:"key"`
	Name        string    `yaml:"name"`
	DisplayName string    `yaml:"display_name"`
	BaseURL     string    `yaml:"base_url"`
	Mode        QueryMode `yaml:"mode"`
	RateLimit   float64   `yaml:"rate_limit"`
	Burst       int       `yaml:"burst"`
	Cap         int       `yaml:"cap"`
	PageSize    int       `yaml:"page_size"`
}

// Endpoint joins a path onto the repository base URL.
func (r Repository) Endpoint(path string) string {
	return strings.TrimRight(r.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Override replaces repository settings; zero values keep the default.
type Override struct {
	BaseURL   string
	RateLimit float64
	Burst     int
	Cap       int
	PageSize  int
}

type registryDoc struct {
	Repositories []Repository `yaml:"repositories"`
}

// ListRepositories returns the built-in repository metadata in its
// declared order.
func ListRepositories() ([]Repository, error) {
	var doc registryDoc
	if err := yaml.Unmarshal(registryYAML, &doc); err != nil {
		return nil, eris.Wrap(err, "source: parse embedded registry")
	}
	for _, r := range doc.Repositories {
		if r.Key == "" || r.Name == "" || r.BaseURL == "" {
			return nil, eris.Errorf("source: incomplete registry entry %+v", r)
		}
	}
	return doc.Repositories, nil
}

// ApplyOverrides returns repos with overrides applied by key. Unknown keys
// are an error so typos in config do not pass silently.
func ApplyOverrides(repos []Repository, overrides map[string]Override) ([]Repository, error) {
	known := make(map[string]bool, len(repos))
	for _, r := range repos {
		known[r.Key] = true
	}
	byKey := make(map[string]Override, len(overrides))
	var unknown []string
	for k, o := range overrides {
		key := strings.ToLower(strings.TrimSpace(k))
		if !known[key] {
			unknown = append(unknown, k)
		}
		byKey[key] = o
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, eris.Errorf("source: overrides for unknown repositories: %s", strings.Join(unknown, ", "))
	}

	out := make([]Repository, len(repos))
	for i, r := range repos {
		o, ok := byKey[r.Key]
		if ok {
			if o.BaseURL != "" {
				r.BaseURL = o.BaseURL
			}
			if o.RateLimit > 0 {
				r.RateLimit = o.RateLimit
			}
			if o.Burst > 0 {
				r.Burst = o.Burst
			}
			if o.Cap > 0 {
				r.Cap = o.Cap
			}
			if o.PageSize > 0 {
				r.PageSize = o.PageSize
			}
		}
		out[i] = r
	}
	return out, nil
}
