package property

import (
	"context"

	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

const (
	baseLon = -97.0
	baseLat = 32.0
	// side is roughly 11 m north-south and 9.4 m east-west at baseLat.
	side = 0.0001
)

// squareAt returns a closed lon/lat square with its south-west corner at
// (lon, lat).
func squareAt(lon, lat float64) []model.Point {
	return []model.Point{
		{X: lon, Y: lat},
		{X: lon + side, Y: lat},
		{X: lon + side, Y: lat + side},
		{X: lon, Y: lat + side},
		{X: lon, Y: lat},
	}
}

func building(id string, lon, lat float64, tags map[string]string) Building {
	ring := squareAt(lon, lat)
	return Building{ID: id, Ring: ring, AreaSqFt: FootprintAreaSqFt(ring), Tags: tags}
}

type fakeSource struct {
	name      string
	buildings []Building
	err       error
	radii     []int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Buildings(_ context.Context, _ estimate.Coordinates, radius int) ([]Building, error) {
	f.radii = append(f.radii, radius)
	return f.buildings, f.err
}
