package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const idigbioSearchURL = `=~^https://search\.idigbio\.org/v2/search/records`

func idigbioItems(n int) []map[string]any {
	items := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]any{
			"uuid": fmt.Sprintf("uuid-%d", i),
			"indexTerms": map[string]any{
				"scientificname": "chelydra serpentina",
				"geopoint":       map[string]any{"lat": 38.5, "lon": -76.5},
				"datecollected":  "1975-09-14T00:00:00+00:00",
				"catalognumber":  fmt.Sprintf("USNM %d", i),
			},
		})
	}
	return items
}

func TestIDigBio_BoundingBoxQuery(t *testing.T) {
	f := mockedFetcher(t)
	i := NewIDigBio(repository(t, "idigbio"), f, fastRetry())

	httpmock.RegisterResponder("GET", idigbioSearchURL, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		assert.Equal(t, "5000", q.Get("limit"))

		var rq struct {
			Geopoint struct {
				Type        string   `json:"type"`
				TopLeft     geoPoint `json:"top_left"`
				BottomRight geoPoint `json:"bottom_right"`
			} `json:"geopoint"`
		}
		require.NoError(t, json.Unmarshal([]byte(q.Get("rq")), &rq))
		assert.Equal(t, "geo_bounding_box", rq.Geopoint.Type)
		assert.Equal(t, geoPoint{Lat: 39, Lon: -77}, rq.Geopoint.TopLeft)
		assert.Equal(t, geoPoint{Lat: 38, Lon: -76}, rq.Geopoint.BottomRight)

		items := idigbioItems(1)
		items[0]["indexTerms"].(map[string]any)["mediarecords"] = []string{"m-1"}
		items = append(items, map[string]any{"uuid": "no-geo", "indexTerms": map[string]any{"scientificname": "x y"}})
		return httpmock.NewJsonResponse(200, map[string]any{"itemCount": 2, "items": items})
	})

	resp, err := i.Retrieve(context.Background(), testQuery(t))
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)

	r := resp.Records[0]
	assert.Equal(t, "iDigBio", r.BioRepo)
	assert.Equal(t, "https://www.idigbio.org/portal/records/uuid-0", r.Evidence)
	assert.Equal(t, 1975, r.Year)
	assert.True(t, r.Media)
	require.Len(t, resp.Media, 1)
	assert.Equal(t, "https://www.idigbio.org/portal/mediarecords/m-1", resp.Media[0].URL)
	assert.Equal(t, 1, resp.Meta.Discarded)
	assert.False(t, resp.Meta.Truncated)
}

func TestIDigBio_TruncatesAboveCap(t *testing.T) {
	logs := observeLogs(t)
	f := mockedFetcher(t)
	i := NewIDigBio(repository(t, "idigbio"), f, fastRetry())

	httpmock.RegisterResponder("GET", idigbioSearchURL,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"itemCount": 6000, "items": idigbioItems(5000)}))

	resp, err := i.Retrieve(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Len(t, resp.Records, 5000)
	assert.True(t, resp.Meta.Truncated)
	assert.Equal(t, 6000, resp.Meta.Reported)

	warnings := logs.FilterLevelExact(zap.WarnLevel).FilterMessageSnippet("exceeds repository cap")
	assert.Equal(t, 1, warnings.Len())
}
