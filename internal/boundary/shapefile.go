// Package boundary loads property boundaries from shapefiles, one dataset per
// boundary kind, and serves them by property name.
package boundary

import (
	"sort"
	"strings"
	"sync"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/adamdsmith/fwspp/internal/geo"
	"github.com/adamdsmith/fwspp/internal/model"
)

// ErrNotFound is returned when no feature in the dataset carries the name.
var ErrNotFound = eris.New("boundary: property not found")

// Loader resolves a property name to its geometry.
type Loader interface {
	LoadProperty(name string, kind model.BoundaryKind) (*geo.Property, error)
}

// Dataset names a shapefile and the attribute holding property names.
type Dataset struct {
	Path      string
	NameField string
}

// Shapefiles is a Loader backed by one shapefile per boundary kind. Each file
// is read once, on first use, and is read-only afterwards.
type Shapefiles struct {
	datasets map[model.BoundaryKind]Dataset

	mu     sync.Mutex
	loaded map[model.BoundaryKind]*index
}

type index struct {
	byKey map[string]*geo.Property
	names []string
}

// NewShapefiles creates a loader over the given datasets.
func NewShapefiles(datasets map[model.BoundaryKind]Dataset) *Shapefiles {
	return &Shapefiles{datasets: datasets, loaded: make(map[model.BoundaryKind]*index)}
}

func key(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// LoadProperty returns the named property. Names match case-insensitively
// with whitespace collapsed.
func (s *Shapefiles) LoadProperty(name string, kind model.BoundaryKind) (*geo.Property, error) {
	idx, err := s.index(kind)
	if err != nil {
		return nil, err
	}
	p, ok := idx.byKey[key(name)]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "%s boundary %q", kind, name)
	}
	return p, nil
}

// Names lists every property name in the dataset for kind, sorted.
func (s *Shapefiles) Names(kind model.BoundaryKind) ([]string, error) {
	idx, err := s.index(kind)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(idx.names))
	copy(out, idx.names)
	return out, nil
}

func (s *Shapefiles) index(kind model.BoundaryKind) (*index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.loaded[kind]; ok {
		return idx, nil
	}
	ds, ok := s.datasets[kind]
	if !ok || ds.Path == "" {
		return nil, eris.Errorf("boundary: no dataset configured for %s boundaries", kind)
	}
	idx, err := readShapefile(ds, kind)
	if err != nil {
		return nil, err
	}
	s.loaded[kind] = idx
	return idx, nil
}

// readShapefile groups features by name, merging multi-feature properties
// into a single multipolygon.
func readShapefile(ds Dataset, kind model.BoundaryKind) (*index, error) {
	reader, err := shp.Open(ds.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", ds.Path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := -1
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), ds.NameField) {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("boundary: field %q not found in %s", ds.NameField, ds.Path)
	}

	shapes := make(map[string]*geom.MultiPolygon)
	display := make(map[string]string)
	var skipped int

	for reader.Next() {
		n, shape := reader.Shape()
		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		poly, ok := shape.(*shp.Polygon)
		if name == "" || !ok {
			skipped++
			continue
		}
		if !geographic(poly.BBox()) {
			return nil, eris.Errorf("boundary: feature %d of %s is not in geographic lon/lat coordinates", n, ds.Path)
		}

		k := key(name)
		mp, seen := shapes[k]
		if !seen {
			mp = geom.NewMultiPolygon(geom.XY).SetSRID(4326)
			shapes[k] = mp
			display[k] = name
		}
		if appendPolygon(mp, poly) == 0 {
			skipped++
		}
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "boundary: read shapefile %s", ds.Path)
	}

	idx := &index{byKey: make(map[string]*geo.Property, len(shapes))}
	for k, mp := range shapes {
		p, err := geo.NewProperty(display[k], kind, mp)
		if err != nil {
			skipped++
			continue
		}
		idx.byKey[k] = p
		idx.names = append(idx.names, display[k])
	}
	sort.Strings(idx.names)

	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records",
			zap.String("path", ds.Path),
			zap.Int("skipped", skipped),
		)
	}
	zap.L().Info("boundary: loaded dataset",
		zap.String("kind", string(kind)),
		zap.Int("properties", len(idx.names)),
	)
	return idx, nil
}
