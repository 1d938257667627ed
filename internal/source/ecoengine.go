package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/resilience"
)

// ecoengineEmpty is the text EcoEngine answers with when a query matches
// nothing. It arrives as an error, not as an empty page.
const ecoengineEmpty = "no records found"

// EcoEngine queries the Berkeley Ecoinformatics Engine observations API with
// a "w,s,e,n" bbox string and follows its next links.
type EcoEngine struct {
	adapter
}

// NewEcoEngine creates the EcoEngine adapter.
func NewEcoEngine(repo Repository, f fetcher.Fetcher, retry resilience.RetryConfig) *EcoEngine {
	return &EcoEngine{adapter: newAdapter(repo, f, retry)}
}

type ecoenginePage struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Detail  string            `json:"detail"`
	Results []ecoengineRecord `json:"results"`
}

type ecoengineRecord struct {
	Record         string `json:"record"`
	ScientificName string `json:"scientific_name"`
	Geojson        *struct {
		Coordinates []any `json:"coordinates"`
	} `json:"geojson"`
	BeginDate                     string   `json:"begin_date"`
	CatalogNumber                 string   `json:"catalog_number"`
	URL                           string   `json:"url"`
	RemoteResource                string   `json:"remote_resource"`
	CoordinateUncertaintyInMeters any      `json:"coordinate_uncertainty_in_meters"`
	Media                         []string `json:"media_urls"`
}

// emptySignal maps EcoEngine's "No records found" error to ErrNoRecords so
// it is never retried.
func emptySignal(err error) error {
	if se, ok := fetcher.AsStatusError(err); ok && strings.Contains(strings.ToLower(se.Body), ecoengineEmpty) {
		return eris.Wrap(resilience.ErrNoRecords, "ecoengine")
	}
	return err
}

// Retrieve implements Source.
func (e *EcoEngine) Retrieve(ctx context.Context, q Query) (*Response, error) {
	b := q.Property.BBox()
	params := url.Values{
		"bbox":          {fmt.Sprintf("%s,%s,%s,%s", fmtCoord(b.MinLon), fmtCoord(b.MinLat), fmtCoord(b.MaxLon), fmtCoord(b.MaxLat))},
		"page_size":     {strconv.Itoa(e.repo.PageSize)},
		"georeferenced": {"True"},
		"format":        {"json"},
	}
	next := e.repo.Endpoint("observations/")

	var meta Meta
	acc := NewAccumulator()
	for batch := 0; next != ""; batch++ {
		meta.Requests++
		page, err := getJSONAt[ecoenginePage](ctx, e.adapter, "search", next, params, emptySignal)
		if err != nil {
			if resilience.IsNoRecords(err) && batch > 0 {
				break
			}
			return acc.Partial(ctx, e.Name(), meta, err)
		}
		if strings.Contains(strings.ToLower(page.Detail), ecoengineEmpty) {
			if batch == 0 {
				return nil, eris.Wrap(resilience.ErrNoRecords, "ecoengine")
			}
			break
		}
		if batch == 0 {
			meta.Reported = page.Count
		}

		results := page.Results
		if room := e.repo.Cap - meta.Returned; len(results) > room {
			results = results[:room]
		}
		norm := newNormalizer(e.Name(), len(results))
		for _, r := range results {
			e.normalize(norm, r)
		}
		meta.Returned += len(results)
		meta.Discarded += norm.discarded
		acc.Merge(batch, norm.records, norm.media)

		if meta.Returned >= e.repo.Cap {
			meta.Truncated = page.Count > e.repo.Cap
			break
		}
		next = ""
		if page.Next != nil {
			// The next link already carries every query parameter.
			next = *page.Next
			params = nil
		}
	}
	return acc.Response(meta), nil
}

func (e *EcoEngine) normalize(n *normalizer, r ecoengineRecord) {
	if r.Geojson == nil || len(r.Geojson.Coordinates) < 2 {
		n.discarded++
		return
	}
	lon, okLon := toFloat(r.Geojson.Coordinates[0])
	lat, okLat := toFloat(r.Geojson.Coordinates[1])
	if !okLon || !okLat {
		n.discarded++
		return
	}
	o := model.Occurrence{
		SciName:       r.ScientificName,
		Lon:           lon,
		Lat:           lat,
		CatalogNumber: r.CatalogNumber,
		Evidence:      firstURL(r.RemoteResource, r.URL),
	}
	if o.CatalogNumber == "" {
		o.CatalogNumber = r.Record
	}
	o.LocUncM, _ = toFloat(r.CoordinateUncertaintyInMeters)
	o.Year, o.Month, o.Day = splitDate(r.BeginDate)
	n.add(o, r.Media...)
}
