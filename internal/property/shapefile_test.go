package property

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFootprints(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "footprints.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("STYLE", 20),
		shp.NumberField("YEAR_BUILT", 4),
	}))

	rows := []struct {
		lon, lat float64
		style    string
		year     int
	}{
		{baseLon, baseLat, "Tudor", 1932},
		{baseLon + 0.01, baseLat, "Ranch", 1965},
	}
	for i, r := range rows {
		pts := make([]shp.Point, 0, 5)
		for _, p := range squareAt(r.lon, r.lat) {
			pts = append(pts, shp.Point{X: p.X, Y: p.Y})
		}
		w.Write(shp.NewPolygon([][]shp.Point{pts}))
		require.NoError(t, w.WriteAttribute(i, 0, r.style))
		require.NoError(t, w.WriteAttribute(i, 1, r.year))
	}
	w.Close()
	return path
}

func TestShapefileSource(t *testing.T) {
	src, err := LoadShapefile(writeFootprints(t))
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())
	assert.Equal(t, ShapefileSourceName, src.Name())

	buildings, err := src.Buildings(context.Background(), center, 250)
	require.NoError(t, err)
	require.Len(t, buildings, 1, "second footprint is ~940 m away")

	b := buildings[0]
	assert.InEpsilon(t, 1128.6, b.AreaSqFt, 0.01)
	assert.Equal(t, "tudor", b.Style())
	require.NotNil(t, b.Age(now))
	assert.Equal(t, 2026-1932, *b.Age(now))
}

func TestShapefileSource_FeedsProvider(t *testing.T) {
	src, err := LoadShapefile(writeFootprints(t))
	require.NoError(t, err)

	bc, err := newTestProvider(src).Lookup(context.Background(), "1 Tudor Ln", center)
	require.NoError(t, err)
	require.NotNil(t, bc.Footprint)
	assert.Equal(t, ShapefileSourceName, bc.Footprint.Source)
	assert.Equal(t, "tudor", bc.ArchitecturalStyle)
}

func TestLoadShapefile_Missing(t *testing.T) {
	_, err := LoadShapefile(filepath.Join(t.TempDir(), "nope.shp"))
	assert.Error(t, err)
}
