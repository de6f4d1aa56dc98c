package property

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

func TestFootprintAreaSqFt(t *testing.T) {
	closed := squareAt(baseLon, baseLat)
	// 11.12 m x 9.43 m
	assert.InEpsilon(t, 1128.6, FootprintAreaSqFt(closed), 0.01)

	open := closed[:len(closed)-1]
	assert.InDelta(t, FootprintAreaSqFt(closed), FootprintAreaSqFt(open), 1e-6)

	assert.Zero(t, FootprintAreaSqFt(nil))
	assert.Zero(t, FootprintAreaSqFt([]model.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}))
}

func TestFootprintAreaSqFt_Orientation(t *testing.T) {
	ring := squareAt(baseLon, baseLat)
	reversed := make([]model.Point, len(ring))
	for i, p := range ring {
		reversed[len(ring)-1-i] = p
	}
	assert.InDelta(t, FootprintAreaSqFt(ring), FootprintAreaSqFt(reversed), 1e-6)
}

func TestRingContains(t *testing.T) {
	ring := squareAt(baseLon, baseLat)
	assert.True(t, ringContains(ring, model.Point{X: baseLon + side/2, Y: baseLat + side/2}))
	assert.False(t, ringContains(ring, model.Point{X: baseLon + 2*side, Y: baseLat}))
	assert.False(t, ringContains(nil, model.Point{}))
}

func TestDistanceMeters(t *testing.T) {
	a := model.Point{X: baseLon, Y: baseLat}
	b := model.Point{X: baseLon, Y: baseLat + side}
	assert.InDelta(t, 11.12, distanceMeters(a, b), 0.01)
	assert.Zero(t, distanceMeters(a, a))
}

func TestCentroid(t *testing.T) {
	c := centroid(squareAt(0, 0))
	assert.InDelta(t, side/2, c.X, 1e-12)
	assert.InDelta(t, side/2, c.Y, 1e-12)
	assert.Equal(t, model.Point{}, centroid(nil))
}
