package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Pitch is a roof slope expressed as rise over run (e.g. 6/12).
type Pitch struct {
	Rise int
	Run  int
}

// DefaultPitch is used when no pitch is known for a facet.
var DefaultPitch = Pitch{Rise: 6, Run: 12}

// ParsePitch parses "rise/run" strings such as "6/12" or " 8 / 12 ".
// "flat" parses to 0/12. Rise must be non-negative and run positive.
func ParsePitch(s string) (Pitch, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "flat") {
		return Pitch{Rise: 0, Run: 12}, nil
	}

	riseStr, runStr, ok := strings.Cut(s, "/")
	if !ok {
		return Pitch{}, eris.Errorf("model: invalid pitch %q", s)
	}
	rise, err := strconv.Atoi(strings.TrimSpace(riseStr))
	if err != nil {
		return Pitch{}, eris.Wrapf(err, "model: invalid pitch rise %q", s)
	}
	run, err := strconv.Atoi(strings.TrimSpace(runStr))
	if err != nil {
		return Pitch{}, eris.Wrapf(err, "model: invalid pitch run %q", s)
	}
	if rise < 0 || run <= 0 {
		return Pitch{}, eris.Errorf("model: pitch out of range %q", s)
	}
	return Pitch{Rise: rise, Run: run}, nil
}

// String formats the pitch as "rise/run".
func (p Pitch) String() string {
	return fmt.Sprintf("%d/%d", p.Rise, p.Run)
}

// IsZero reports whether the pitch was never set.
func (p Pitch) IsZero() bool {
	return p.Run == 0
}

// Slope returns rise divided by run, or 0 for an unset pitch.
func (p Pitch) Slope() float64 {
	if p.Run == 0 {
		return 0
	}
	return float64(p.Rise) / float64(p.Run)
}

// MarshalJSON encodes the pitch in its string form.
func (p Pitch) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a "rise/run" string.
func (p *Pitch) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "model: pitch must be a string")
	}
	parsed, err := ParsePitch(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
