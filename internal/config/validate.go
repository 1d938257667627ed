package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command depends on. Mode is the command
// name: "run", "properties" or "runs".
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "run":
		if c.Run.TimeoutSecs <= 0 {
			add("run.timeout_secs must be > 0")
		}
		if c.Run.BufferKm < 0 {
			add("run.buffer_km must be >= 0")
		}
		if c.Run.MaxConcurrentProperties < 1 || c.Run.MaxConcurrentProperties > 32 {
			add("run.max_concurrent_properties must be between 1 and 32")
		}
		if t := c.Taxonomy.SimilarityThreshold; t <= 0 || t > 1 {
			add("taxonomy.similarity_threshold must be in (0, 1]")
		}
		switch strings.ToLower(c.Export.Format) {
		case "csv", "xlsx":
		default:
			add("export.format must be csv or xlsx")
		}
		c.validateBoundary(c.Run.BoundaryKind, add)
	case "properties":
		c.validateBoundary(c.Run.BoundaryKind, add)
	case "runs":
		if c.Store.Driver == "" {
			add("store.driver is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "" && c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		add("store.driver must be sqlite or postgres")
	}
	if c.Store.Driver != "" && c.Store.DatabaseURL == "" {
		add("store.database_url is required when store.driver is set")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateBoundary(kind string, add func(string, ...any)) {
	shp, err := c.Boundary.Shapefile(kind)
	if err != nil {
		add("run.boundary_kind must be admin or acquisition")
		return
	}
	if shp.Path == "" {
		add("boundary.%s.path is required", kind)
	}
	if shp.NameField == "" {
		add("boundary.%s.name_field is required", kind)
	}
}
