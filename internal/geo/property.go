// Package geo models a property boundary and the query regions derived from
// it: buffered bounding box, covering circle, WKT polygon and exact
// containment.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"github.com/twpayne/go-geom/xy"

	"github.com/adamdsmith/fwspp/internal/model"
)

// bufferSamples is the number of points used to approximate the buffer
// circle around each vertex when building the query polygon.
const bufferSamples = 16

// Property is an immutable property boundary with an optional buffer.
type Property struct {
	Name string
	Kind model.BoundaryKind

	shape    *geom.MultiPolygon
	bufferKm float64
	bbox     BBox
}

// NewProperty validates shape and returns an unbuffered property.
func NewProperty(name string, kind model.BoundaryKind, shape *geom.MultiPolygon) (*Property, error) {
	if shape == nil || shape.Empty() || shape.NumPolygons() == 0 {
		return nil, eris.Errorf("geo: property %q has no polygons", name)
	}
	p := &Property{Name: name, Kind: kind, shape: shape.Clone()}
	p.bbox = p.computeBBox()
	return p, nil
}

// Buffered returns a copy of p with the buffer set to km.
func (p *Property) Buffered(km float64) (*Property, error) {
	if km < 0 || math.IsNaN(km) || math.IsInf(km, 0) {
		return nil, eris.Errorf("geo: buffer must be a non-negative distance, got %v", km)
	}
	cp := *p
	cp.bufferKm = km
	cp.bbox = cp.computeBBox()
	return &cp, nil
}

// BufferKm returns the buffer distance.
func (p *Property) BufferKm() float64 { return p.bufferKm }

// Shape returns a copy of the unbuffered boundary.
func (p *Property) Shape() *geom.MultiPolygon { return p.shape.Clone() }

// BBox returns the bounding box expanded by the buffer.
func (p *Property) BBox() BBox { return p.bbox }

func (p *Property) computeBBox() BBox {
	b := p.shape.Bounds()
	box := BBox{MinLon: b.Min(0), MinLat: b.Min(1), MaxLon: b.Max(0), MaxLat: b.Max(1)}
	if p.bufferKm == 0 {
		return box
	}
	dLat := p.bufferKm / kmPerDegLat
	widest := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat)) + dLat
	dLon := lonDegreesForKm(p.bufferKm, math.Min(widest, 89.9))
	return BBox{
		MinLon: math.Max(-180, box.MinLon-dLon),
		MinLat: math.Max(-90, box.MinLat-dLat),
		MaxLon: math.Min(180, box.MaxLon+dLon),
		MaxLat: math.Min(90, box.MaxLat+dLat),
	}
}

// CoveringCircle returns a circle centered on the buffered bounding box whose
// radius reaches every corner of it, so the circle covers the whole region.
func (p *Property) CoveringCircle() Circle {
	lon, lat := p.bbox.Center()
	var r float64
	for _, c := range p.bbox.Corners() {
		r = math.Max(r, HaversineKm(lon, lat, c[0], c[1]))
	}
	// One percent slack absorbs rounding in the repository's own distance math.
	return Circle{Lon: lon, Lat: lat, RadiusKm: r * 1.01}
}

// WKT returns a counter-clockwise polygon covering the buffered property: the
// convex hull of every boundary vertex plus buffer-circle samples around it.
func (p *Property) WKT() (string, error) {
	flat := make([]float64, 0)
	for i := 0; i < p.shape.NumPolygons(); i++ {
		poly := p.shape.Polygon(i)
		if poly.NumLinearRings() == 0 {
			continue
		}
		ring := poly.LinearRing(0).FlatCoords()
		for j := 0; j+1 < len(ring); j += 2 {
			lon, lat := ring[j], ring[j+1]
			if p.bufferKm == 0 {
				flat = append(flat, lon, lat)
				continue
			}
			for k := 0; k < bufferSamples; k++ {
				bLon, bLat := Destination(lon, lat, float64(k)*360/bufferSamples, p.bufferKm)
				flat = append(flat, bLon, bLat)
			}
		}
	}

	hull := xy.ConvexHull(geom.NewMultiPointFlat(geom.XY, flat))
	var ring []float64
	if poly, ok := hull.(*geom.Polygon); ok && poly.NumLinearRings() > 0 {
		ring = poly.LinearRing(0).FlatCoords()
	} else {
		ring = bboxRing(p.bbox)
	}

	ring = roundFlat(ring, 6)
	if n := len(ring); n >= 4 && (ring[0] != ring[n-2] || ring[1] != ring[n-1]) {
		ring = append(ring, ring[0], ring[1])
	}
	if !xy.IsRingCounterClockwise(geom.XY, ring) {
		ring = reverseFlat(ring)
	}

	out, err := wkt.Marshal(geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)}))
	if err != nil {
		return "", eris.Wrapf(err, "geo: marshal WKT for %q", p.Name)
	}
	return out, nil
}

// Contains reports whether (lon, lat) lies inside the boundary or, with a
// buffer, within bufferKm of its edge.
func (p *Property) Contains(lon, lat float64) bool {
	if !model.ValidCoords(lon, lat) || !p.bbox.ContainsPoint(lon, lat) {
		return false
	}
	if p.inside(lon, lat) {
		return true
	}
	if p.bufferKm == 0 {
		return false
	}
	return p.edgeDistanceKm(lon, lat) <= p.bufferKm
}

// inside applies the even-odd rule over every ring, so shapefile holes and
// islands within holes resolve correctly.
func (p *Property) inside(lon, lat float64) bool {
	pt := geom.Coord{lon, lat}
	in := false
	for i := 0; i < p.shape.NumPolygons(); i++ {
		poly := p.shape.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			if xy.IsPointInRing(geom.XY, pt, poly.LinearRing(j).FlatCoords()) {
				in = !in
			}
		}
	}
	return in
}

// edgeDistanceKm measures the distance to the nearest boundary edge in a local
// equirectangular projection centered on the point.
func (p *Property) edgeDistanceKm(lon, lat float64) float64 {
	kx := kmPerDegLat * math.Cos(rad(lat))
	best := math.Inf(1)
	origin := geom.Coord{0, 0}
	for i := 0; i < p.shape.NumPolygons(); i++ {
		poly := p.shape.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			ring := poly.LinearRing(j).FlatCoords()
			proj := make([]float64, len(ring))
			for k := 0; k+1 < len(ring); k += 2 {
				proj[k] = (ring[k] - lon) * kx
				proj[k+1] = (ring[k+1] - lat) * kmPerDegLat
			}
			if d := xy.DistanceFromPointToLineString(geom.XY, origin, proj); d < best {
				best = d
			}
		}
	}
	return best
}

func bboxRing(b BBox) []float64 {
	c := b.Corners()
	return []float64{
		c[0][0], c[0][1], c[1][0], c[1][1], c[2][0], c[2][1], c[3][0], c[3][1], c[0][0], c[0][1],
	}
}

func roundFlat(flat []float64, places int) []float64 {
	scale := math.Pow(10, float64(places))
	out := make([]float64, len(flat))
	for i, v := range flat {
		out[i] = math.Round(v*scale) / scale
	}
	return out
}

func reverseFlat(flat []float64) []float64 {
	out := make([]float64, len(flat))
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		out[2*i] = flat[2*(n-1-i)]
		out[2*i+1] = flat[2*(n-1-i)+1]
	}
	return out
}
