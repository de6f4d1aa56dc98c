package property

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/serjvanilla/go-overpass"
	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// OverpassSourceName identifies OSM footprints.
const OverpassSourceName = "osm"

// OverpassSource queries OpenStreetMap building ways through an Overpass API
// endpoint.
type OverpassSource struct {
	client       *overpass.Client
	queryTimeout int
}

// defaultQueryTimeout is the server-side query budget in seconds when no
// client timeout is configured.
const defaultQueryTimeout = 25

// NewOverpassSource creates a source for endpoint. maxParallel bounds
// concurrent queries against the endpoint. timeout bounds each HTTP request
// and is also sent to the server as the query's [timeout:N] setting.
func NewOverpassSource(endpoint string, maxParallel int, timeout time.Duration) *OverpassSource {
	if maxParallel < 1 {
		maxParallel = 1
	}
	client := overpass.NewWithSettings(endpoint, maxParallel, &http.Client{Timeout: timeout})
	secs := int(timeout / time.Second)
	if secs <= 0 {
		secs = defaultQueryTimeout
	}
	return &OverpassSource{client: &client, queryTimeout: secs}
}

// Name implements FootprintSource.
func (s *OverpassSource) Name() string { return OverpassSourceName }

// Buildings implements FootprintSource.
func (s *OverpassSource) Buildings(ctx context.Context, at estimate.Coordinates, radiusMeters int) ([]Building, error) {
	query := fmt.Sprintf(`[out:json][timeout:%d];
way["building"](around:%d,%f,%f);
out body;
>;
out skel qt;`, s.queryTimeout, radiusMeters, at.Latitude, at.Longitude)

	type queryResult struct {
		res overpass.Result
		err error
	}
	done := make(chan queryResult, 1)
	go func() {
		res, err := s.client.Query(query)
		done <- queryResult{res: res, err: err}
	}()

	var res overpass.Result
	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "property: overpass query")
	case r := <-done:
		if r.err != nil {
			return nil, eris.Wrap(r.err, "property: overpass query")
		}
		res = r.res
	}

	buildings := make([]Building, 0, len(res.Ways))
	var skipped int
	for id, way := range res.Ways {
		ring := make([]model.Point, 0, len(way.Nodes))
		for _, n := range way.Nodes {
			if n == nil {
				continue
			}
			ring = append(ring, model.Point{X: n.Lon, Y: n.Lat})
		}
		area := FootprintAreaSqFt(ring)
		if area <= 0 {
			skipped++
			continue
		}
		buildings = append(buildings, Building{
			ID:       "way/" + strconv.FormatInt(id, 10),
			Ring:     closeRing(ring),
			AreaSqFt: area,
			Tags:     way.Tags,
		})
	}

	zap.L().Debug("property: overpass buildings",
		zap.Float64("lat", at.Latitude),
		zap.Float64("lng", at.Longitude),
		zap.Int("radius_m", radiusMeters),
		zap.Int("buildings", len(buildings)),
		zap.Int("skipped", skipped),
	)
	return buildings, nil
}
