package source

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/resilience"
)

const antwebSpecimenURL = "https://www.antweb.org/specimen/"

// AntWeb queries the AntWeb specimen API with a bounding box. The service
// returns at most Cap specimens per query; larger counts are truncated with
// a warning.
type AntWeb struct {
	adapter
}

// NewAntWeb creates the AntWeb adapter.
func NewAntWeb(repo Repository, f fetcher.Fetcher, retry resilience.RetryConfig) *AntWeb {
	return &AntWeb{adapter: newAdapter(repo, f, retry)}
}

type antwebSearch struct {
	Count     int              `json:"count"`
	Specimens []antwebSpecimen `json:"specimens"`
}

// antwebSpecimen is nested: coordinates sit under geo and image URLs under
// images -> shot number -> shot_types -> shot -> img.
type antwebSpecimen struct {
	CatalogNumber  string `json:"catalogNumber"`
	ScientificName string `json:"scientific_name"`
	URL            string `json:"url"`
	DateCollected  string `json:"dateCollected"`
	Geo            *struct {
		Coordinates []any `json:"coordinates"`
	} `json:"geo"`
	Images map[string]struct {
		ShotTypes map[string]struct {
			Img []string `json:"img"`
		} `json:"shot_types"`
	} `json:"images"`
}

// Retrieve implements Source.
func (a *AntWeb) Retrieve(ctx context.Context, q Query) (*Response, error) {
	b := q.Property.BBox()
	meta := Meta{Requests: 1}
	res, err := getJSON[antwebSearch](ctx, a.adapter, "search", "", url.Values{
		// Top-left then bottom-right corner, each as lat,lon.
		"bbox":          {fmt.Sprintf("%s,%s,%s,%s", fmtCoord(b.MaxLat), fmtCoord(b.MinLon), fmtCoord(b.MinLat), fmtCoord(b.MaxLon))},
		"limit":         {strconv.Itoa(a.repo.Cap)},
		"georeferenced": {"true"},
	})
	if err != nil {
		return nil, err
	}

	meta.Reported = res.Count
	specimens := res.Specimens
	if res.Count > a.repo.Cap || len(specimens) > a.repo.Cap {
		zap.L().Warn("AntWeb query matched more specimens than the service returns; only the first ones are kept",
			zap.String("property", q.Property.Name),
			zap.Int("count", max(res.Count, len(specimens))),
			zap.Int("cap", a.repo.Cap),
		)
		meta.Truncated = true
	}
	if len(specimens) > a.repo.Cap {
		specimens = specimens[:a.repo.Cap]
	}
	meta.Returned = len(specimens)

	// Image links are pulled out before the specimens are flattened to rows.
	images := make([][]string, len(specimens))
	for i, s := range specimens {
		images[i] = antwebImages(s)
	}

	norm := newNormalizer(a.Name(), len(specimens))
	for i, s := range specimens {
		a.normalize(norm, s, images[i])
	}
	meta.Discarded = norm.discarded
	return &Response{Records: norm.records, Media: norm.media, Meta: meta}, nil
}

// antwebImages lists a specimen's image URLs in shot order.
func antwebImages(s antwebSpecimen) []string {
	shots := make([]string, 0, len(s.Images))
	for k := range s.Images {
		shots = append(shots, k)
	}
	sort.Strings(shots)

	var urls []string
	for _, shot := range shots {
		types := s.Images[shot].ShotTypes
		kinds := make([]string, 0, len(types))
		for k := range types {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			if imgs := types[k].Img; len(imgs) > 0 {
				urls = append(urls, imgs[0])
			}
		}
	}
	return urls
}

func (a *AntWeb) normalize(n *normalizer, s antwebSpecimen, images []string) {
	if s.Geo == nil || len(s.Geo.Coordinates) < 2 {
		n.discarded++
		return
	}
	lat, okLat := toFloat(s.Geo.Coordinates[0])
	lon, okLon := toFloat(s.Geo.Coordinates[1])
	if !okLon || !okLat {
		n.discarded++
		return
	}

	code := strings.TrimSpace(s.CatalogNumber)
	o := model.Occurrence{
		SciName:       capitalize(strings.ReplaceAll(s.ScientificName, "_", " ")),
		Lon:           lon,
		Lat:           lat,
		CatalogNumber: code,
		Evidence:      firstURL(s.URL),
	}
	if o.Evidence == "" && code != "" {
		o.Evidence = antwebSpecimenURL + strings.ToLower(code)
	}
	o.Year, o.Month, o.Day = splitDate(s.DateCollected)
	n.add(o, images...)
}

// capitalize upper-cases the genus initial; AntWeb reports names in lower case.
func capitalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
