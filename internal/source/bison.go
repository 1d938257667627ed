package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/geo"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/resilience"
)

// bisonPad keeps points on the box edge inside the Solr range queries.
const bisonPad = 1e-6

// BISON counts records with a Solr range query over the padded bounding box,
// then pages through the search API with offset batches.
type BISON struct {
	adapter
}

// NewBISON creates the BISON adapter.
func NewBISON(repo Repository, f fetcher.Fetcher, retry resilience.RetryConfig) *BISON {
	return &BISON{adapter: newAdapter(repo, f, retry)}
}

type bisonSolr struct {
	Response struct {
		NumFound int `json:"numFound"`
	} `json:"response"`
}

type bisonSearch struct {
	Total int           `json:"total"`
	Data  []bisonRecord `json:"data"`
}

type bisonRecord struct {
	Name                          string `json:"name"`
	DecimalLongitude              any    `json:"decimalLongitude"`
	DecimalLatitude               any    `json:"decimalLatitude"`
	CoordinateUncertaintyInMeters any    `json:"coordinateUncertaintyInMeters"`
	Year                          any    `json:"year"`
	Date                          string `json:"date"`
	CatalogNumber                 string `json:"catalogNumber"`
	OccurrenceID                  string `json:"occurrenceID"`
	References                    string `json:"references"`
	AssociatedMedia               string `json:"associatedMedia"`
}

func solrRange(b geo.BBox) string {
	return fmt.Sprintf("decimalLongitude:[%s TO %s] AND decimalLatitude:[%s TO %s]",
		fmtCoord(b.MinLon), fmtCoord(b.MaxLon), fmtCoord(b.MinLat), fmtCoord(b.MaxLat))
}

func fmtCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 7, 64)
}

// Retrieve implements Source.
func (b *BISON) Retrieve(ctx context.Context, q Query) (*Response, error) {
	box := q.Property.BBox().Pad(bisonPad)
	var meta Meta

	meta.Requests++
	count, err := getJSON[bisonSolr](ctx, b.adapter, "count", "solr/occurrences/select", url.Values{
		"q":    {solrRange(box)},
		"rows": {"0"},
		"wt":   {"json"},
	})
	if err != nil {
		return nil, err
	}
	meta.Reported = count.Response.NumFound
	if meta.Reported == 0 {
		return &Response{Meta: meta}, nil
	}

	total := meta.Reported
	if total > b.repo.Cap {
		zap.L().Warn("record count exceeds repository cap; results truncated",
			zap.String("source", b.Name()),
			zap.String("property", q.Property.Name),
			zap.Int("count", total),
			zap.Int("cap", b.repo.Cap),
		)
		total = b.repo.Cap
		meta.Truncated = true
	}

	aoi := fmt.Sprintf("%s,%s,%s,%s", fmtCoord(box.MinLon), fmtCoord(box.MinLat), fmtCoord(box.MaxLon), fmtCoord(box.MaxLat))
	acc := NewAccumulator()
	for _, batch := range OffsetBatches(total, b.repo.PageSize) {
		meta.Requests++
		page, err := getJSON[bisonSearch](ctx, b.adapter, "search", "api/search.json", url.Values{
			"aoibbox": {aoi},
			"type":    {"scientific_name"},
			"count":   {strconv.Itoa(batch.Size)},
			"start":   {strconv.Itoa(batch.Offset)},
		})
		if err != nil {
			return acc.Partial(ctx, b.Name(), meta, err)
		}

		norm := newNormalizer(b.Name(), len(page.Data))
		for _, r := range page.Data {
			b.normalize(norm, r)
		}
		meta.Returned += len(page.Data)
		meta.Discarded += norm.discarded
		acc.Merge(batch.Index, norm.records, norm.media)

		if len(page.Data) < batch.Size {
			break
		}
	}
	return acc.Response(meta), nil
}

func (b *BISON) normalize(n *normalizer, r bisonRecord) {
	lon, okLon := toFloat(r.DecimalLongitude)
	lat, okLat := toFloat(r.DecimalLatitude)
	if !okLon || !okLat {
		n.discarded++
		return
	}
	o := model.Occurrence{
		SciName:       r.Name,
		Lon:           lon,
		Lat:           lat,
		CatalogNumber: r.CatalogNumber,
		Evidence:      firstURL(r.References, r.OccurrenceID),
	}
	o.LocUncM, _ = toFloat(r.CoordinateUncertaintyInMeters)
	o.Year, o.Month, o.Day = splitDate(r.Date)
	if o.Year == 0 {
		o.Year = toInt(r.Year)
	}

	var media []string
	if u := firstURL(r.AssociatedMedia); u != "" {
		media = append(media, u)
	}
	n.add(o, media...)
}
