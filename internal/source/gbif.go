package source

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/resilience"
)

// GBIF queries the GBIF occurrence search API with the property's WKT
// polygon. Queries above the repository cap are split by year using the
// year facet of a zero-row pre-count.
type GBIF struct {
	adapter
	counts *cache.Cache
}

// NewGBIF creates the GBIF adapter.
func NewGBIF(repo Repository, f fetcher.Fetcher, retry resilience.RetryConfig) *GBIF {
	return &GBIF{
		adapter: newAdapter(repo, f, retry),
		counts:  cache.New(30*time.Minute, 10*time.Minute),
	}
}

type gbifPage struct {
	Count        int          `json:"count"`
	EndOfRecords bool         `json:"endOfRecords"`
	Results      []gbifRecord `json:"results"`
	Facets       []struct {
		Field  string `json:"field"`
		Counts []struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		} `json:"counts"`
	} `json:"facets"`
}

type gbifRecord struct {
	Key                           any    `json:"key"`
	GBIFID                        any    `json:"gbifID"`
	Species                       string `json:"species"`
	ScientificName                string `json:"scientificName"`
	DecimalLongitude              any    `json:"decimalLongitude"`
	DecimalLatitude               any    `json:"decimalLatitude"`
	CoordinateUncertaintyInMeters any    `json:"coordinateUncertaintyInMeters"`
	Year                          any    `json:"year"`
	Month                         any    `json:"month"`
	Day                           any    `json:"day"`
	EventDate                     string `json:"eventDate"`
	CatalogNumber                 string `json:"catalogNumber"`
	References                    string `json:"references"`
	Media                         []struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
		References string `json:"references"`
	} `json:"media"`
}

// gbifCount is the cached result of the pre-count for one query region.
type gbifCount struct {
	total int
	years map[int]int
}

func (g *GBIF) baseQuery(wkt string) url.Values {
	return url.Values{
		"geometry":           {wkt},
		"hasCoordinate":      {"true"},
		"hasGeospatialIssue": {"false"},
	}
}

// count runs the zero-row pre-count with a year facet. Results are cached by
// WKT so repeated retrievals of a region reuse them.
func (g *GBIF) count(ctx context.Context, wkt string, q Query, meta *Meta) (gbifCount, error) {
	if c, ok := g.counts.Get(wkt); ok {
		return c.(gbifCount), nil
	}

	params := g.baseQuery(wkt)
	params.Set("limit", "0")
	params.Set("facet", "year")
	params.Set("facetLimit", strconv.Itoa(q.currentYear()-FloorYear+1))

	meta.Requests++
	page, err := getJSON[gbifPage](ctx, g.adapter, "count", "occurrence/search", params)
	if err != nil {
		return gbifCount{}, err
	}

	c := gbifCount{total: page.Count, years: make(map[int]int)}
	for _, f := range page.Facets {
		if f.Field != "YEAR" && f.Field != "year" {
			continue
		}
		for _, yc := range f.Counts {
			if y, err := strconv.Atoi(yc.Name); err == nil {
				c.years[y] = yc.Count
			}
		}
	}
	g.counts.SetDefault(wkt, c)
	return c, nil
}

// Retrieve implements Source.
func (g *GBIF) Retrieve(ctx context.Context, q Query) (*Response, error) {
	log := zap.L().With(zap.String("source", g.Name()), zap.String("property", q.Property.Name))

	wkt, err := q.Property.WKT()
	if err != nil {
		return nil, eris.Wrap(err, "gbif: build query polygon")
	}

	var meta Meta
	c, err := g.count(ctx, wkt, q, &meta)
	if err != nil {
		return nil, err
	}
	meta.Reported = c.total
	if c.total == 0 {
		return &Response{Meta: meta}, nil
	}

	capN := g.repo.Cap
	var parts []Partition
	if c.total > capN {
		years := c.years
		if len(years) == 0 {
			years = UniformYearCounts(c.total, q.currentYear(), FloorYear)
		}
		parts = TemporalPartitions(years, capN, q.currentYear(), FloorYear)
		meta.Partitions = len(parts)
		log.Info("splitting query by year",
			zap.Int("count", c.total),
			zap.Int("cap", capN),
			zap.Int("partitions", len(parts)),
		)
	} else {
		parts = []Partition{{Count: c.total}}
	}

	acc := NewAccumulator()
	next := 0
	for _, p := range parts {
		if p.Overflow {
			log.Warn("single year exceeds record cap; results for that year are truncated",
				zap.Int("year", p.From),
				zap.Int("count", p.Count),
				zap.Int("cap", capN),
			)
			meta.Truncated = true
		}
		params := g.baseQuery(wkt)
		if p.From > 0 {
			params.Set("year", strconv.Itoa(p.From)+","+strconv.Itoa(p.To))
		}
		if err := g.retrievePartition(ctx, params, p.Count, &next, acc, &meta); err != nil {
			return acc.Partial(ctx, g.Name(), meta, err)
		}
	}

	if undated := c.total - sumCounts(c.years, FloorYear, q.currentYear()); len(parts) > 1 && undated > 0 {
		log.Info("records without a collection year are not reachable by year partitions",
			zap.Int("undated", undated),
		)
	}
	return acc.Response(meta), nil
}

// retrievePartition pages through one partition with offset batches. The
// first page's count replaces the facet estimate.
func (g *GBIF) retrievePartition(ctx context.Context, params url.Values, estimate int, next *int, acc *Accumulator, meta *Meta) error {
	total := min(estimate, g.repo.Cap)
	if total <= 0 {
		total = g.repo.PageSize
	}

	batches := OffsetBatches(total, g.repo.PageSize)
	for i := 0; i < len(batches); i++ {
		params.Set("offset", strconv.Itoa(batches[i].Offset))
		params.Set("limit", strconv.Itoa(g.repo.PageSize))

		meta.Requests++
		page, err := getJSON[gbifPage](ctx, g.adapter, "search", "occurrence/search", params)
		if err != nil {
			return err
		}

		norm := newNormalizer(g.Name(), len(page.Results))
		for _, r := range page.Results {
			g.normalize(norm, r)
		}
		meta.Returned += len(page.Results)
		meta.Discarded += norm.discarded
		acc.Merge(*next, norm.records, norm.media)
		*next++

		if i == 0 {
			if actual := min(page.Count, g.repo.Cap); actual > 0 && actual != total {
				total = actual
				batches = OffsetBatches(total, g.repo.PageSize)
			}
		}
		if page.EndOfRecords || len(page.Results) == 0 {
			break
		}
	}
	return nil
}

func (g *GBIF) normalize(n *normalizer, r gbifRecord) {
	lon, okLon := toFloat(r.DecimalLongitude)
	lat, okLat := toFloat(r.DecimalLatitude)
	if !okLon || !okLat {
		n.discarded++
		return
	}

	name := r.Species
	if name == "" {
		name = r.ScientificName
	}

	o := model.Occurrence{
		SciName:       name,
		Lon:           lon,
		Lat:           lat,
		Year:          toInt(r.Year),
		Month:         toInt(r.Month),
		Day:           toInt(r.Day),
		CatalogNumber: r.CatalogNumber,
	}
	o.LocUncM, _ = toFloat(r.CoordinateUncertaintyInMeters)
	if o.Year == 0 && r.EventDate != "" {
		o.Year, o.Month, o.Day = splitDate(r.EventDate)
	}

	id := toString(r.GBIFID)
	if id == "" {
		id = toString(r.Key)
	}
	if id != "" {
		o.Evidence = "https://www.gbif.org/occurrence/" + id
	} else {
		o.Evidence = firstURL(r.References)
	}

	var media []string
	for _, m := range r.Media {
		if u := firstURL(m.Identifier, m.References); u != "" {
			media = append(media, u)
		}
	}
	n.add(o, media...)
}
