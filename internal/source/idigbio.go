package source

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/resilience"
)

const (
	idigbioRecordURL = "https://www.idigbio.org/portal/records/"
	idigbioMediaURL  = "https://www.idigbio.org/portal/mediarecords/"
)

// IDigBio sends a single geo_bounding_box search with a fixed item cap.
type IDigBio struct {
	adapter
}

// NewIDigBio creates the iDigBio adapter.
func NewIDigBio(repo Repository, f fetcher.Fetcher, retry resilience.RetryConfig) *IDigBio {
	return &IDigBio{adapter: newAdapter(repo, f, retry)}
}

type idigbioSearch struct {
	ItemCount int             `json:"itemCount"`
	Items     []idigbioRecord `json:"items"`
}

type idigbioRecord struct {
	UUID       string `json:"uuid"`
	IndexTerms struct {
		ScientificName string `json:"scientificname"`
		Geopoint       *struct {
			Lat any `json:"lat"`
			Lon any `json:"lon"`
		} `json:"geopoint"`
		CoordinateUncertainty any      `json:"coordinateuncertainty"`
		DateCollected         string   `json:"datecollected"`
		CatalogNumber         string   `json:"catalognumber"`
		HasImage              bool     `json:"hasImage"`
		MediaRecords          []string `json:"mediarecords"`
	} `json:"indexTerms"`
}

type geoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Retrieve implements Source.
func (i *IDigBio) Retrieve(ctx context.Context, q Query) (*Response, error) {
	box := q.Property.BBox()
	rq := map[string]any{
		"geopoint": map[string]any{
			"type":         "geo_bounding_box",
			"top_left":     geoPoint{Lat: box.MaxLat, Lon: box.MinLon},
			"bottom_right": geoPoint{Lat: box.MinLat, Lon: box.MaxLon},
		},
	}
	rqJSON, err := json.Marshal(rq)
	if err != nil {
		return nil, eris.Wrap(err, "idigbio: encode record query")
	}

	meta := Meta{Requests: 1}
	res, err := getJSON[idigbioSearch](ctx, i.adapter, "search", "search/records", url.Values{
		"rq":    {string(rqJSON)},
		"limit": {strconv.Itoa(i.repo.Cap)},
	})
	if err != nil {
		return nil, err
	}

	meta.Reported = res.ItemCount
	meta.Returned = len(res.Items)
	if res.ItemCount > i.repo.Cap {
		zap.L().Warn("record count exceeds repository cap; results truncated",
			zap.String("source", i.Name()),
			zap.String("property", q.Property.Name),
			zap.Int("count", res.ItemCount),
			zap.Int("cap", i.repo.Cap),
		)
		meta.Truncated = true
	}

	items := res.Items
	if len(items) > i.repo.Cap {
		items = items[:i.repo.Cap]
	}
	norm := newNormalizer(i.Name(), len(items))
	for _, r := range items {
		i.normalize(norm, r)
	}
	meta.Discarded = norm.discarded
	return &Response{Records: norm.records, Media: norm.media, Meta: meta}, nil
}

func (i *IDigBio) normalize(n *normalizer, r idigbioRecord) {
	t := r.IndexTerms
	if t.Geopoint == nil {
		n.discarded++
		return
	}
	lon, okLon := toFloat(t.Geopoint.Lon)
	lat, okLat := toFloat(t.Geopoint.Lat)
	if !okLon || !okLat {
		n.discarded++
		return
	}
	o := model.Occurrence{
		SciName:       t.ScientificName,
		Lon:           lon,
		Lat:           lat,
		CatalogNumber: t.CatalogNumber,
	}
	o.LocUncM, _ = toFloat(t.CoordinateUncertainty)
	o.Year, o.Month, o.Day = splitDate(t.DateCollected)
	if r.UUID != "" {
		o.Evidence = idigbioRecordURL + r.UUID
	}

	var media []string
	for _, m := range t.MediaRecords {
		if m != "" {
			media = append(media, idigbioMediaURL+m)
		}
	}
	n.add(o, media...)
}
