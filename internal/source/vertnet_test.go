package source

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vertnetSearchURL = `=~^http://api\.vertnet-portal\.appspot\.com/api/search`

func vertnetRecs(n int, inst string) []map[string]any {
	recs := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, map[string]any{
			"scientificname":   "Plethodon cinereus",
			"decimallongitude": "-76.5",
			"decimallatitude":  "38.5",
			"eventdate":        "1964-04-18",
			"catalognumber":    "A" + string(rune('0'+i)),
			"institutioncode":  inst,
		})
	}
	return recs
}

func decodeVertnetQuery(t *testing.T, req *http.Request) vertnetQuery {
	t.Helper()
	var vq vertnetQuery
	require.NoError(t, json.Unmarshal([]byte(req.URL.Query().Get("q")), &vq))
	return vq
}

func TestVertNet_FollowsCursor(t *testing.T) {
	f := mockedFetcher(t)
	v := NewVertNet(repository(t, "vertnet"), f, fastRetry())

	var cursors []string
	httpmock.RegisterResponder("GET", vertnetSearchURL, func(req *http.Request) (*http.Response, error) {
		vq := decodeVertnetQuery(t, req)
		assert.Contains(t, vq.Q, "distance(location,geopoint(38.5")
		assert.Equal(t, 1000, vq.Limit)
		cursors = append(cursors, vq.Cursor)

		switch vq.Cursor {
		case "":
			return httpmock.NewJsonResponse(200, map[string]any{
				"recs": vertnetRecs(2, "USNM"), "cursor": "page-2", "matching_records": "3",
			})
		case "page-2":
			return httpmock.NewJsonResponse(200, map[string]any{"recs": vertnetRecs(1, "MVZ")})
		}
		return httpmock.NewStringResponse(400, "unknown cursor"), nil
	})

	resp, err := v.Retrieve(context.Background(), testQuery(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"", "page-2"}, cursors)
	require.Len(t, resp.Records, 3)
	assert.Equal(t, "USNM:A0", resp.Records[0].CatalogNumber)
	assert.Equal(t, "MVZ:A0", resp.Records[2].CatalogNumber)
	assert.Equal(t, 1964, resp.Records[0].Year)
	assert.Equal(t, "VertNet", resp.Records[0].BioRepo)
	assert.Equal(t, 3, resp.Meta.Reported)
	assert.Equal(t, 2, resp.Meta.Requests)
}

func TestVertNet_StopsOnRepeatedCursor(t *testing.T) {
	f := mockedFetcher(t)
	v := NewVertNet(repository(t, "vertnet"), f, fastRetry())

	httpmock.RegisterResponder("GET", vertnetSearchURL,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"recs": vertnetRecs(1, "USNM"), "cursor": "same"}))

	resp, err := v.Retrieve(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
	assert.Len(t, resp.Records, 2)
}

func TestVertNet_TruncatesAtCap(t *testing.T) {
	f := mockedFetcher(t)
	repo := repository(t, "vertnet")
	repo.Cap, repo.PageSize = 3, 2
	v := NewVertNet(repo, f, fastRetry())

	httpmock.RegisterResponder("GET", vertnetSearchURL, func(req *http.Request) (*http.Response, error) {
		vq := decodeVertnetQuery(t, req)
		return httpmock.NewJsonResponse(200, map[string]any{
			"recs": vertnetRecs(2, "USNM"), "cursor": vq.Cursor + "x",
		})
	})

	resp, err := v.Retrieve(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Len(t, resp.Records, 3)
	assert.True(t, resp.Meta.Truncated)
}
