package coords

import (
	"encoding/json"
	"fmt"
	"time"
)

type TargetKind string

const (
	Equatorial TargetKind = "equatorial"
	Galactic   TargetKind = "galactic"
	Horizontal TargetKind = "horizontal"
	Parked     TargetKind = "parked"
)

// Target is a requested pointing. Only the fields belonging to Kind are
// meaningful.
type Target struct {
	Kind TargetKind `json:"kind"`

	// Equatorial
	RightAscension float64 `json:"right_ascension,omitempty"`
	Declination    float64 `json:"declination,omitempty"`

	// Galactic
	Longitude float64 `json:"longitude,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`

	// Horizontal
	Azimuth   float64 `json:"azimuth,omitempty"`
	Elevation float64 `json:"elevation,omitempty"`
}

func EquatorialTarget(ra, dec float64) Target {
	return Target{Kind: Equatorial, RightAscension: ra, Declination: dec}
}

func GalacticTarget(l, b float64) Target {
	return Target{Kind: Galactic, Longitude: l, Latitude: b}
}

func HorizontalTarget(az, el float64) Target {
	return Target{Kind: Horizontal, Azimuth: az, Elevation: el}
}

func ParkedTarget() Target {
	return Target{Kind: Parked}
}

// Horizontal resolves the target to a direction at t. It reports false for
// targets that have no fixed sky position.
func (t Target) Horizontal(loc Location, when time.Time) (Direction, bool) {
	switch t.Kind {
	case Equatorial:
		return HorizontalFromEquatorial(loc, when, t.RightAscension, t.Declination), true
	case Galactic:
		return HorizontalFromGalactic(loc, when, t.Longitude, t.Latitude), true
	case Horizontal:
		return Direction{Azimuth: t.Azimuth, Altitude: t.Elevation}, true
	}
	return Direction{}, false
}

func (t Target) Validate() error {
	switch t.Kind {
	case Equatorial, Galactic, Horizontal, Parked:
		return nil
	}
	return fmt.Errorf("unknown target kind %q", t.Kind)
}

func (t *Target) UnmarshalJSON(data []byte) error {
	type plain Target
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if err := Target(p).Validate(); err != nil {
		return err
	}
	*t = Target(p)
	return nil
}

func (t Target) String() string {
	switch t.Kind {
	case Equatorial:
		return fmt.Sprintf("equatorial(ra=%.4f, dec=%.4f)", t.RightAscension, t.Declination)
	case Galactic:
		return fmt.Sprintf("galactic(l=%.4f, b=%.4f)", t.Longitude, t.Latitude)
	case Horizontal:
		return fmt.Sprintf("horizontal(az=%.4f, el=%.4f)", t.Azimuth, t.Elevation)
	}
	return string(t.Kind)
}
