package estimate

import (
	"bytes"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeasonAt(t *testing.T) {
	tests := map[time.Month]Season{
		time.January:   SeasonWinter,
		time.February:  SeasonWinter,
		time.March:     SeasonSpring,
		time.May:       SeasonSpring,
		time.June:      SeasonSummer,
		time.August:    SeasonSummer,
		time.September: SeasonFall,
		time.November:  SeasonFall,
		time.December:  SeasonWinter,
	}
	for m, want := range tests {
		assert.Equal(t, want, SeasonAt(time.Date(2026, m, 15, 12, 0, 0, 0, time.UTC)), m.String())
	}
}

func TestTimeOfDayAt(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 6, 1, h, 30, 0, 0, time.UTC) }
	assert.Equal(t, TimeMorning, TimeOfDayAt(at(0)))
	assert.Equal(t, TimeMorning, TimeOfDayAt(at(11)))
	assert.Equal(t, TimeAfternoon, TimeOfDayAt(at(12)))
	assert.Equal(t, TimeAfternoon, TimeOfDayAt(at(16)))
	assert.Equal(t, TimeEvening, TimeOfDayAt(at(17)))
	assert.Equal(t, TimeEvening, TimeOfDayAt(at(23)))
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestImageQuality(t *testing.T) {
	tests := []struct {
		w, h int
		want float64
	}{
		{1280, 1024, 0.9},
		{2000, 800, 0.75},
		{400, 400, 0.6},
		{100, 300, 0.4},
	}
	for _, tt := range tests {
		q, err := ImageQuality(encodePNG(t, tt.w, tt.h))
		require.NoError(t, err)
		assert.Equal(t, tt.want, q)
	}

	_, err := ImageQuality(nil)
	assert.Error(t, err)
	_, err = ImageQuality([]byte("not an image"))
	assert.Error(t, err)
}
