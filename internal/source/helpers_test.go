package source

import (
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/geo"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/resilience"
)

// testQuery covers a one-degree square on the western shore of the Chesapeake.
func testQuery(t *testing.T) Query {
	t.Helper()
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
		{-77, 38}, {-76, 38}, {-76, 39}, {-77, 39}, {-77, 38},
	}})
	require.NoError(t, err)
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(poly))
	p, err := geo.NewProperty("Test Refuge", model.BoundaryAdmin, mp)
	require.NoError(t, err)
	return Query{Property: p, CurrentYear: 2024}
}

// mockedFetcher returns a fetcher whose transport is intercepted by httpmock.
func mockedFetcher(t *testing.T) *fetcher.HTTPFetcher {
	t.Helper()
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{DefaultRate: 10000, DefaultBurst: 10000})
	httpmock.ActivateNonDefault(f.Client())
	t.Cleanup(httpmock.DeactivateAndReset)
	return f
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     5,
	}
}

func repository(t *testing.T, key string) Repository {
	t.Helper()
	repos, err := ListRepositories()
	require.NoError(t, err)
	for _, r := range repos {
		if r.Key == key {
			return r
		}
	}
	t.Fatalf("repository %q not in registry", key)
	return Repository{}
}

// observeLogs swaps the global logger for an observer for the test's duration.
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}
