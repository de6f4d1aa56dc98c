package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) Client {
	return NewClient(WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()), WithRateLimit(0))
}

func TestCensusGeocode_Success(t *testing.T) {
	var gotPath, gotAddress, gotBenchmark string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAddress = r.URL.Query().Get("address")
		gotBenchmark = r.URL.Query().Get("benchmark")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"result": {
				"addressMatches": [{
					"coordinates": {"x": -96.797, "y": 32.7767},
					"matchedAddress": "1500 MARILLA ST, DALLAS, TX, 75201"
				}, {
					"coordinates": {"x": -96.8, "y": 32.78},
					"matchedAddress": "1500 MARILLA ST, DALLAS, TX, 75202"
				}]
			}
		}`)
	}))
	defer srv.Close()

	result, err := newTestClient(srv).Geocode(context.Background(), "  1500 Marilla St, Dallas, TX 75201 ")
	require.NoError(t, err)

	assert.Equal(t, "/locations/onelineaddress", gotPath)
	assert.Equal(t, "1500 Marilla St, Dallas, TX 75201", gotAddress)
	assert.Equal(t, censusBenchmark, gotBenchmark)
	assert.True(t, result.Matched)
	assert.InDelta(t, 32.7767, result.Latitude, 0.0001)
	assert.InDelta(t, -96.797, result.Longitude, 0.0001)
	assert.Equal(t, "1500 MARILLA ST, DALLAS, TX, 75201", result.MatchedAddress)
	assert.Equal(t, "census", result.Source)
}

func TestCensusGeocode_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"result": {"addressMatches": []}}`)
	}))
	defer srv.Close()

	result, err := newTestClient(srv).Geocode(context.Background(), "123 Nowhere St, Faketown, XX")
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, "census", result.Source)
}

func TestCensusGeocode_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Geocode(context.Background(), "1 Main St")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestCensusGeocode_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Geocode(context.Background(), "1 Main St")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestCensusGeocode_EmptyAddress(t *testing.T) {
	_, err := NewClient().Geocode(context.Background(), "   ")
	assert.Error(t, err)
}

func TestCensusGeocode_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"result": {"addressMatches": []}}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv).Geocode(ctx, "1 Main St")
	assert.Error(t, err)
}
