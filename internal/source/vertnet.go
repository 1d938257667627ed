package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/resilience"
)

// VertNet only supports point and radius searches. The circle comes from the
// property's CoveringCircle so that it always contains the whole polygon;
// records outside the polygon are clipped later.
type VertNet struct {
	adapter
}

// NewVertNet creates the VertNet adapter.
func NewVertNet(repo Repository, f fetcher.Fetcher, retry resilience.RetryConfig) *VertNet {
	return &VertNet{adapter: newAdapter(repo, f, retry)}
}

type vertnetQuery struct {
	Q      string `json:"q"`
	Limit  int    `json:"l"`
	Cursor string `json:"c,omitempty"`
}

type vertnetSearch struct {
	Recs            []vertnetRecord `json:"recs"`
	Cursor          string          `json:"cursor"`
	MatchingRecords any             `json:"matching_records"`
}

type vertnetRecord struct {
	ScientificName                string `json:"scientificname"`
	DecimalLongitude              any    `json:"decimallongitude"`
	DecimalLatitude               any    `json:"decimallatitude"`
	CoordinateUncertaintyInMeters any    `json:"coordinateuncertaintyinmeters"`
	Year                          any    `json:"year"`
	Month                         any    `json:"month"`
	Day                           any    `json:"day"`
	EventDate                     string `json:"eventdate"`
	CatalogNumber                 string `json:"catalognumber"`
	InstitutionCode               string `json:"institutioncode"`
	References                    string `json:"references"`
	AssociatedMedia               string `json:"associatedmedia"`
}

// Retrieve implements Source.
func (v *VertNet) Retrieve(ctx context.Context, q Query) (*Response, error) {
	c := q.Property.CoveringCircle()
	vq := vertnetQuery{
		Q:     fmt.Sprintf("distance(location,geopoint(%.6f,%.6f))<%d", c.Lat, c.Lon, c.RadiusM()),
		Limit: min(v.repo.PageSize, v.repo.Cap),
	}

	var meta Meta
	acc := NewAccumulator()
	seen := make(map[string]bool)
	for batch := 0; ; batch++ {
		body, err := json.Marshal(vq)
		if err != nil {
			return nil, eris.Wrap(err, "vertnet: encode query")
		}

		meta.Requests++
		page, err := getJSON[vertnetSearch](ctx, v.adapter, "search", "search", url.Values{"q": {string(body)}})
		if err != nil {
			return acc.Partial(ctx, v.Name(), meta, err)
		}
		if batch == 0 {
			meta.Reported = toInt(page.MatchingRecords)
		}

		recs := page.Recs
		if room := v.repo.Cap - meta.Returned; len(recs) > room {
			recs = recs[:room]
		}
		norm := newNormalizer(v.Name(), len(recs))
		for _, r := range recs {
			v.normalize(norm, r)
		}
		meta.Returned += len(recs)
		meta.Discarded += norm.discarded
		acc.Merge(batch, norm.records, norm.media)

		if meta.Returned >= v.repo.Cap && page.Cursor != "" {
			zap.L().Warn("record count exceeds repository cap; results truncated",
				zap.String("source", v.Name()),
				zap.String("property", q.Property.Name),
				zap.Int("cap", v.repo.Cap),
			)
			meta.Truncated = true
			break
		}
		if page.Cursor == "" || len(page.Recs) == 0 || seen[page.Cursor] {
			break
		}
		seen[page.Cursor] = true
		vq.Cursor = page.Cursor
	}
	return acc.Response(meta), nil
}

func (v *VertNet) normalize(n *normalizer, r vertnetRecord) {
	lon, okLon := toFloat(r.DecimalLongitude)
	lat, okLat := toFloat(r.DecimalLatitude)
	if !okLon || !okLat {
		n.discarded++
		return
	}
	o := model.Occurrence{
		SciName:       r.ScientificName,
		Lon:           lon,
		Lat:           lat,
		Year:          toInt(r.Year),
		Month:         toInt(r.Month),
		Day:           toInt(r.Day),
		CatalogNumber: r.CatalogNumber,
		Evidence:      firstURL(r.References),
	}
	if o.CatalogNumber != "" && r.InstitutionCode != "" {
		o.CatalogNumber = r.InstitutionCode + ":" + o.CatalogNumber
	}
	o.LocUncM, _ = toFloat(r.CoordinateUncertaintyInMeters)
	if o.Year == 0 {
		o.Year, o.Month, o.Day = splitDate(r.EventDate)
	}

	var media []string
	if u := firstURL(r.AssociatedMedia); u != "" {
		media = append(media, u)
	}
	n.add(o, media...)
}
