package geo

import "math"

// BBox is a lon/lat bounding box in WGS84 degrees.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Pad grows the box by deg on every side, clamped to valid coordinates.
func (b BBox) Pad(deg float64) BBox {
	return BBox{
		MinLon: math.Max(-180, b.MinLon-deg),
		MinLat: math.Max(-90, b.MinLat-deg),
		MaxLon: math.Min(180, b.MaxLon+deg),
		MaxLat: math.Min(90, b.MaxLat+deg),
	}
}

// Center returns the midpoint of the box.
func (b BBox) Center() (lon, lat float64) {
	return (b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2
}

// ContainsPoint reports whether (lon, lat) lies inside or on the box.
func (b BBox) ContainsPoint(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Corners returns the four corners, counter-clockwise from the south-west.
func (b BBox) Corners() [4][2]float64 {
	return [4][2]float64{
		{b.MinLon, b.MinLat},
		{b.MaxLon, b.MinLat},
		{b.MaxLon, b.MaxLat},
		{b.MinLon, b.MaxLat},
	}
}

// Circle is a point and radius covering a region.
type Circle struct {
	Lon      float64 `json:"lon"`
	Lat      float64 `json:"lat"`
	RadiusKm float64 `json:"radius_km"`
}

// RadiusM returns the radius in whole meters, rounded up.
func (c Circle) RadiusM() int {
	return int(math.Ceil(c.RadiusKm * 1000))
}
