package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamdsmith/fwspp/internal/fetcher"
)

func TestListRepositories(t *testing.T) {
	repos, err := ListRepositories()
	require.NoError(t, err)

	var keys []string
	for _, r := range repos {
		keys = append(keys, r.Key)
		assert.Positive(t, r.Cap, r.Key)
		assert.Positive(t, r.RateLimit, r.Key)
	}
	assert.Equal(t, []string{"gbif", "bison", "idigbio", "vertnet", "ecoengine", "antweb"}, keys)
}

func TestApplyOverrides(t *testing.T) {
	repos, err := ListRepositories()
	require.NoError(t, err)

	out, err := ApplyOverrides(repos, map[string]Override{"gbif": {Cap: 50, BaseURL: "http://localhost:9000/v1/"}})
	require.NoError(t, err)
	assert.Equal(t, 50, out[0].Cap)
	assert.Equal(t, "http://localhost:9000/v1/occurrence/search", out[0].Endpoint("occurrence/search"))
	assert.Equal(t, 300, out[0].PageSize, "zero fields keep defaults")
	assert.Equal(t, 125000, repos[0].Cap, "input is not modified")

	_, err = ApplyOverrides(repos, map[string]Override{"gbiff": {Cap: 1}})
	assert.ErrorContains(t, err, "gbiff")
}

func TestBuildAndSelect(t *testing.T) {
	repos, err := ListRepositories()
	require.NoError(t, err)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})

	reg, err := Build(repos, f, fastRetry())
	require.NoError(t, err)
	assert.Equal(t, []string{"GBIF", "BISON", "iDigBio", "VertNet", "EcoEngine", "AntWeb"}, reg.Names())
	assert.EqualValues(t, 1, f.LimiterFor("api.vertnet-portal.appspot.com").Limit())

	all, err := reg.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	some, err := reg.Select([]string{"gbif", "GBIF", " antweb "})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "GBIF", some[0].Name())
	assert.Equal(t, "AntWeb", some[1].Name())

	_, err = reg.Select([]string{"obis"})
	assert.Error(t, err)

	_, err = Build([]Repository{{Key: "obis", Name: "OBIS", BaseURL: "https://api.obis.org/"}}, f, fastRetry())
	assert.Error(t, err)
}
