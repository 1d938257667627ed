package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Run      RunConfig                 `yaml:"run" mapstructure:"run"`
	Boundary BoundaryConfig            `yaml:"boundary" mapstructure:"boundary"`
	Sources  map[string]SourceOverride `yaml:"sources" mapstructure:"sources"`
	Retry    RetryConfig               `yaml:"retry" mapstructure:"retry"`
	Circuit  CircuitConfig             `yaml:"circuit" mapstructure:"circuit"`
	Taxonomy TaxonomyConfig            `yaml:"taxonomy" mapstructure:"taxonomy"`
	Export   ExportConfig              `yaml:"export" mapstructure:"export"`
	Store    StoreConfig               `yaml:"store" mapstructure:"store"`
	Log      LogConfig                 `yaml:"log" mapstructure:"log"`
}

// RunConfig holds the per-run defaults that the run command's flags override.
type RunConfig struct {
	BoundaryKind            string   `yaml:"boundary_kind" mapstructure:"boundary_kind"`
	ScrubLevel              string   `yaml:"scrub_level" mapstructure:"scrub_level"`
	LinkTaxonomy            bool     `yaml:"link_taxonomy" mapstructure:"link_taxonomy"`
	BufferKm                float64  `yaml:"buffer_km" mapstructure:"buffer_km"`
	TimeoutSecs             int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConcurrentProperties int      `yaml:"max_concurrent_properties" mapstructure:"max_concurrent_properties"`
	Sources                 []string `yaml:"sources" mapstructure:"sources"`
}

// BoundaryConfig points at the shapefile for each boundary kind.
type BoundaryConfig struct {
	Admin       ShapefileConfig `yaml:"admin" mapstructure:"admin"`
	Acquisition ShapefileConfig `yaml:"acquisition" mapstructure:"acquisition"`
}

// ShapefileConfig names a shapefile and the attribute holding property names.
type ShapefileConfig struct {
	Path      string `yaml:"path" mapstructure:"path"`
	NameField string `yaml:"name_field" mapstructure:"name_field"`
}

// SourceOverride replaces registry values for one repository. Zero values
// keep the registry default.
type SourceOverride struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
	Cap       int     `yaml:"cap" mapstructure:"cap"`
	PageSize  int     `yaml:"page_size" mapstructure:"page_size"`
}

// RetryConfig configures the backoff policy for repository calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-repository circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// TaxonomyConfig configures the ITIS linker.
type TaxonomyConfig struct {
	BaseURL             string  `yaml:"base_url" mapstructure:"base_url"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MaxCandidates       int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	RateLimit           float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	CacheTTLHours       int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// ExportConfig configures per-property output files.
type ExportConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the run log backend. An empty driver disables it.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FWSPP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("run.boundary_kind", "admin")
	v.SetDefault("run.scrub_level", "strict")
	v.SetDefault("run.link_taxonomy", true)
	v.SetDefault("run.buffer_km", 0.0)
	v.SetDefault("run.timeout_secs", 120)
	v.SetDefault("run.max_concurrent_properties", 4)
	v.SetDefault("boundary.admin.path", "data/fws_approved.shp")
	v.SetDefault("boundary.admin.name_field", "ORGNAME")
	v.SetDefault("boundary.acquisition.path", "data/fws_interest.shp")
	v.SetDefault("boundary.acquisition.name_field", "ORGNAME")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 60000)
	v.SetDefault("retry.multiplier", 5.0)
	v.SetDefault("retry.jitter_fraction", 0.5)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 300)
	v.SetDefault("taxonomy.base_url", "https://services.itis.gov/")
	v.SetDefault("taxonomy.similarity_threshold", 0.90)
	v.SetDefault("taxonomy.max_candidates", 25)
	v.SetDefault("taxonomy.rate_limit", 5.0)
	v.SetDefault("taxonomy.cache_ttl_hours", 24)
	v.SetDefault("export.dir", "output")
	v.SetDefault("export.format", "csv")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "fwspp.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Shapefile returns the shapefile settings for a boundary kind name
// ("admin" or "acquisition").
func (b BoundaryConfig) Shapefile(kind string) (ShapefileConfig, error) {
	switch kind {
	case "admin":
		return b.Admin, nil
	case "acquisition":
		return b.Acquisition, nil
	default:
		return ShapefileConfig{}, eris.Errorf("config: unknown boundary kind %q", kind)
	}
}

// InitLogger initializes the global zap logger. A verbose run always logs at
// debug level.
func InitLogger(cfg LogConfig, verbose bool) error {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
