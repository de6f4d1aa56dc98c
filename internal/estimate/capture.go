package estimate

import (
	"bytes"
	"image"
	_ "image/jpeg" // register decoders for DecodeConfig
	_ "image/png"
	"time"

	"github.com/rotisserie/eris"
)

// Season of the imagery capture.
type Season string

const (
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonFall   Season = "fall"
	SeasonWinter Season = "winter"
)

// TimeOfDay of the imagery capture.
type TimeOfDay string

const (
	TimeMorning   TimeOfDay = "morning"
	TimeAfternoon TimeOfDay = "afternoon"
	TimeEvening   TimeOfDay = "evening"
)

// SeasonAt returns the northern-hemisphere meteorological season for t.
func SeasonAt(t time.Time) Season {
	switch t.Month() {
	case time.December, time.January, time.February:
		return SeasonWinter
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	default:
		return SeasonFall
	}
}

// TimeOfDayAt buckets t's local hour: before noon is morning, before 17:00
// afternoon, otherwise evening.
func TimeOfDayAt(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h < 12:
		return TimeMorning
	case h < 17:
		return TimeAfternoon
	default:
		return TimeEvening
	}
}

// ImageQuality scores an encoded JPEG or PNG by its shorter side. Only the
// image header is decoded.
func ImageQuality(data []byte) (float64, error) {
	if len(data) == 0 {
		return 0, eris.New("estimate: empty image")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, eris.Wrap(err, "estimate: decode image header")
	}

	short := min(cfg.Width, cfg.Height)
	switch {
	case short >= 1024:
		return 0.9, nil
	case short >= 640:
		return 0.75, nil
	case short >= 320:
		return 0.6, nil
	default:
		return 0.4, nil
	}
}
