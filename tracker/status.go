package tracker

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/w1xm/salsa_interface/coords"
)

// Status is derived from the commanded and current directions each time it
// is reported.
type Status int

const (
	Idle Status = iota
	Slewing
	Tracking
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Slewing:
		return "Slewing"
	case Tracking:
		return "Tracking"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	for _, v := range []Status{Idle, Slewing, Tracking} {
		if v.String() == str {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", str)
}

// DirectionsClose reports whether a and b are within tol radians on both
// axes. Azimuth is compared across the 0/2π seam.
func DirectionsClose(a, b coords.Direction, tol float64) bool {
	return math.Abs(math.Remainder(a.Azimuth-b.Azimuth, 2*math.Pi)) < tol &&
		math.Abs(a.Altitude-b.Altitude) < tol
}

// DeriveStatus is Idle without a commanded direction, Tracking within tol of
// it and Slewing otherwise.
func DeriveStatus(commanded *coords.Direction, current coords.Direction, tol float64) Status {
	switch {
	case commanded == nil:
		return Idle
	case DirectionsClose(*commanded, current, tol):
		return Tracking
	default:
		return Slewing
	}
}
