package property

import (
	"context"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// ShapefileSourceName identifies local footprint datasets.
const ShapefileSourceName = "shapefile"

// ShapefileSource serves footprints from a local polygon shapefile in WGS84.
// Attribute columns become lower-cased tags, so YEAR_BUILT and STYLE feed
// building age and style.
type ShapefileSource struct {
	buildings []Building
}

// LoadShapefile reads every polygon record of the shapefile at path.
func LoadShapefile(path string) (*ShapefileSource, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "property: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	src := &ShapefileSource{}
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly.NumParts == 0 {
			skipped++
			continue
		}

		ring := outerRing(poly)
		area := FootprintAreaSqFt(ring)
		if area <= 0 {
			skipped++
			continue
		}

		tags := make(map[string]string, len(names))
		for i, name := range names {
			if v := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00")); v != "" {
				tags[name] = v
			}
		}
		src.buildings = append(src.buildings, Building{
			ID:       "shp/" + strconv.Itoa(n),
			Ring:     closeRing(ring),
			AreaSqFt: area,
			Tags:     tags,
		})
	}

	zap.L().Info("property: loaded footprint shapefile",
		zap.String("path", path),
		zap.Int("buildings", len(src.buildings)),
		zap.Int("skipped", skipped),
	)
	return src, nil
}

func outerRing(p *shp.Polygon) []model.Point {
	end := int32(len(p.Points))
	if p.NumParts > 1 {
		end = p.Parts[1]
	}
	ring := make([]model.Point, 0, end-p.Parts[0])
	for _, pt := range p.Points[p.Parts[0]:end] {
		ring = append(ring, model.Point{X: pt.X, Y: pt.Y})
	}
	return ring
}

// Name implements FootprintSource.
func (s *ShapefileSource) Name() string { return ShapefileSourceName }

// Len returns the number of loaded footprints.
func (s *ShapefileSource) Len() int { return len(s.buildings) }

// Buildings implements FootprintSource with a linear scan by centroid distance.
func (s *ShapefileSource) Buildings(_ context.Context, at estimate.Coordinates, radiusMeters int) ([]Building, error) {
	origin := model.Point{X: at.Longitude, Y: at.Latitude}
	var out []Building
	for _, b := range s.buildings {
		if ringContains(b.Ring, origin) || distanceMeters(origin, b.Centroid()) <= float64(radiusMeters) {
			out = append(out, b)
		}
	}
	return out, nil
}
