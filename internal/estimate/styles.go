package estimate

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// StyleRule scales linear measurements for an architectural style. Keys are
// ridges, valleys, hips, rakes, eaves, gutters, step_flashing, drip_edge.
type StyleRule struct {
	Style       string             `yaml:"style"`
	Multipliers map[string]float64 `yaml:"multipliers"`
}

// StyleRules is an ordered rule list; the first matching rule wins.
type StyleRules []StyleRule

// DefaultStyleRules returns the built-in heuristics.
func DefaultStyleRules() StyleRules {
	return StyleRules{
		{Style: "victorian", Multipliers: map[string]float64{"ridges": 1.2, "valleys": 1.3, "hips": 0.8}},
		{Style: "ranch", Multipliers: map[string]float64{"ridges": 0.8, "valleys": 0.7, "eaves": 1.1}},
	}
}

var measurementKeys = map[string]int{
	"ridges":        0,
	"valleys":       1,
	"hips":          2,
	"rakes":         3,
	"eaves":         4,
	"gutters":       5,
	"step_flashing": 6,
	"drip_edge":     7,
}

// LoadStyleRules reads extra rules from a YAML file. File rules take
// precedence over the built-in rules for the same style.
//
//	- style: colonial
//	  multipliers: {ridges: 1.1, rakes: 1.2}
func LoadStyleRules(path string) (StyleRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "estimate: read style rules %s", path)
	}

	var extra StyleRules
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, eris.Wrapf(err, "estimate: parse style rules %s", path)
	}
	for _, r := range extra {
		if strings.TrimSpace(r.Style) == "" {
			return nil, eris.Errorf("estimate: style rule without style in %s", path)
		}
		for k, v := range r.Multipliers {
			if _, ok := measurementKeys[k]; !ok {
				return nil, eris.Errorf("estimate: unknown measurement %q for style %s", k, r.Style)
			}
			if v <= 0 {
				return nil, eris.Errorf("estimate: multiplier for %s/%s must be positive", r.Style, k)
			}
		}
	}

	return append(extra, DefaultStyleRules()...), nil
}

// Match returns the first rule whose style appears in the given style name,
// ignoring case.
func (rs StyleRules) Match(style string) (StyleRule, bool) {
	s := strings.ToLower(strings.TrimSpace(style))
	if s == "" {
		return StyleRule{}, false
	}
	for _, r := range rs {
		if strings.Contains(s, strings.ToLower(r.Style)) {
			return r, true
		}
	}
	return StyleRule{}, false
}

// Apply scales m by the rule matching style. Unmatched styles return m unchanged.
func (rs StyleRules) Apply(style string, m model.Measurements) (model.Measurements, bool) {
	r, ok := rs.Match(style)
	if !ok {
		return m, false
	}
	v := m.Values()
	for k, mul := range r.Multipliers {
		if i, known := measurementKeys[k]; known {
			v[i] *= mul
		}
	}
	return model.MeasurementsFromValues(v), true
}
