package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	censusOneLinePath = "/locations/onelineaddress"
	censusBenchmark   = "Public_AR_Current"
	censusSource      = "census"
)

// maxResponseBytes bounds the decoded Census response.
const maxResponseBytes = 1 << 20

// StatusError is returned when the geocoder answers with a non-200 status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geocode: census returned status %d", e.StatusCode)
}

type onelineResponse struct {
	Result struct {
		AddressMatches []struct {
			MatchedAddress string `json:"matchedAddress"`
			Coordinates    struct {
				Lon float64 `json:"x"`
				Lat float64 `json:"y"`
			} `json:"coordinates"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// Geocode resolves address with the Census one-line endpoint. An address the
// Census cannot place yields a Result with Matched false and no error.
func (g *geocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, eris.New("geocode: empty address")
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit wait")
	}

	q := url.Values{}
	q.Set("address", address)
	q.Set("benchmark", censusBenchmark)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+censusOneLinePath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: lookup %q", address)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var out onelineResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, eris.Wrap(err, "geocode: decode response")
	}

	matches := out.Result.AddressMatches
	if len(matches) == 0 {
		zap.L().Debug("geocode: no match", zap.String("address", address))
		return &Result{Source: censusSource}, nil
	}

	// Candidates arrive best first.
	best := matches[0]
	return &Result{
		Latitude:       best.Coordinates.Lat,
		Longitude:      best.Coordinates.Lon,
		MatchedAddress: best.MatchedAddress,
		Source:         censusSource,
		Matched:        true,
	}, nil
}
