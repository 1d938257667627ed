package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "admin", cfg.Run.BoundaryKind)
	assert.Equal(t, "strict", cfg.Run.ScrubLevel)
	assert.True(t, cfg.Run.LinkTaxonomy)
	assert.Equal(t, 120, cfg.Run.TimeoutSecs)
	assert.Equal(t, 4, cfg.Run.MaxConcurrentProperties)
	assert.Equal(t, "ORGNAME", cfg.Boundary.Admin.NameField)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 5.0, cfg.Retry.Multiplier, 0.001)
	assert.Equal(t, 60000, cfg.Retry.MaxBackoffMs)
	assert.Equal(t, "https://services.itis.gov/", cfg.Taxonomy.BaseURL)
	assert.InDelta(t, 0.90, cfg.Taxonomy.SimilarityThreshold, 0.001)
	assert.Equal(t, "csv", cfg.Export.Format)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
run:
  scrub_level: moderate
  buffer_km: 2.5
  sources: [gbif, vertnet]
sources:
  gbif:
    cap: 50000
store:
  driver: postgres
  database_url: postgres://localhost/fwspp
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "moderate", cfg.Run.ScrubLevel)
	assert.InDelta(t, 2.5, cfg.Run.BufferKm, 0.001)
	assert.Equal(t, []string{"gbif", "vertnet"}, cfg.Run.Sources)
	assert.Equal(t, 50000, cfg.Sources["gbif"].Cap)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 120, cfg.Run.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("FWSPP_STORE_DRIVER", "postgres")
	t.Setenv("FWSPP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("FWSPP_RUN_TIMEOUT_SECS", "30")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Run.TimeoutSecs)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("run: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}, false))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSONVerbose(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}, true))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}, false))
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Run.BoundaryKind = "admin"
	cfg.Run.TimeoutSecs = 120
	cfg.Run.MaxConcurrentProperties = 4
	cfg.Boundary.Admin = ShapefileConfig{Path: "approved.shp", NameField: "ORGNAME"}
	cfg.Taxonomy.SimilarityThreshold = 0.9
	cfg.Export.Format = "csv"
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "fwspp.db"
	return cfg
}

func TestValidateRun_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateRun_CollectsProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Run.TimeoutSecs = 0
	cfg.Run.BufferKm = -1
	cfg.Export.Format = "json"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run.timeout_secs must be > 0")
	assert.Contains(t, err.Error(), "run.buffer_km must be >= 0")
	assert.Contains(t, err.Error(), "export.format must be csv or xlsx")
}

func TestValidateRun_MissingShapefile(t *testing.T) {
	cfg := validDefaults()
	cfg.Run.BoundaryKind = "acquisition"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boundary.acquisition.path is required")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Run.MaxConcurrentProperties = 0
	assert.ErrorContains(t, cfg.Validate("run"), "max_concurrent_properties must be between 1 and 32")

	cfg.Run.MaxConcurrentProperties = 33
	assert.Error(t, cfg.Validate("run"))

	cfg.Run.MaxConcurrentProperties = 32
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRuns_RequiresStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = ""
	assert.ErrorContains(t, cfg.Validate("runs"), "store.driver is required")

	cfg.Store.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate("runs"), "store.driver must be sqlite or postgres")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestBoundaryShapefile(t *testing.T) {
	b := BoundaryConfig{
		Admin:       ShapefileConfig{Path: "a.shp"},
		Acquisition: ShapefileConfig{Path: "b.shp"},
	}
	shp, err := b.Shapefile("acquisition")
	require.NoError(t, err)
	assert.Equal(t, "b.shp", shp.Path)

	_, err = b.Shapefile("county")
	assert.Error(t, err)
}
