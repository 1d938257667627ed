package boundary

import (
	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// appendPolygon adds every ring of a shapefile polygon to mp as its own
// polygon. Holes become separate rings too; containment uses the even-odd
// rule across all rings, so they still subtract.
func appendPolygon(mp *geom.MultiPolygon, p *shp.Polygon) int {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return 0
	}

	added := 0
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			zap.L().Debug("boundary: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("boundary: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("boundary: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
		added++
	}
	return added
}

func geographic(b shp.Box) bool {
	return b.MinX >= -180 && b.MaxX <= 180 && b.MinY >= -90 && b.MaxY <= 90
}
