package property

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

const (
	earthRadiusMeters = 6371008.8
	sqFtPerSqMeter    = 10.7639104
)

// project maps lon/lat points onto a local equirectangular plane in meters
// centered on origin. Accurate enough for building-sized polygons.
func project(points []model.Point, origin model.Point) []float64 {
	cosLat := math.Cos(origin.Y * math.Pi / 180)
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		x := (p.X - origin.X) * math.Pi / 180 * earthRadiusMeters * cosLat
		y := (p.Y - origin.Y) * math.Pi / 180 * earthRadiusMeters
		flat = append(flat, x, y)
	}
	return flat
}

// closeRing returns the ring with its first point repeated at the end.
func closeRing(points []model.Point) []model.Point {
	if len(points) == 0 || points[0] == points[len(points)-1] {
		return points
	}
	out := make([]model.Point, len(points), len(points)+1)
	copy(out, points)
	return append(out, points[0])
}

// FootprintAreaSqFt returns the ground area of a lon/lat ring in square feet.
// Rings with fewer than three distinct vertices have zero area.
func FootprintAreaSqFt(ring []model.Point) float64 {
	ring = closeRing(ring)
	if len(ring) < 4 {
		return 0
	}
	flat := project(ring, centroid(ring))
	poly := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	return poly.Area() * sqFtPerSqMeter
}

// ringContains reports whether the lon/lat point lies inside ring.
func ringContains(ring []model.Point, pt model.Point) bool {
	ring = closeRing(ring)
	if len(ring) < 4 {
		return false
	}
	flat := make([]float64, 0, len(ring)*2)
	for _, p := range ring {
		flat = append(flat, p.X, p.Y)
	}
	return xy.IsPointInRing(geom.XY, geom.Coord{pt.X, pt.Y}, flat)
}

// centroid is the vertex average of a ring, ignoring the closing point.
func centroid(ring []model.Point) model.Point {
	pts := ring
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	var c model.Point
	if len(pts) == 0 {
		return c
	}
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= float64(len(pts))
	c.Y /= float64(len(pts))
	return c
}

// distanceMeters is the haversine distance between two lon/lat points.
func distanceMeters(a, b model.Point) float64 {
	lat1, lat2 := a.Y*math.Pi/180, b.Y*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.X - a.X) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
