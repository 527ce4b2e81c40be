// Package coords converts sky coordinates into antenna pointing directions.
//
// All angles are in radians. Functions are pure and safe for concurrent use.
package coords

import (
	"math"
	"time"
)

const fullCircle = 2 * math.Pi

// Obliquity of the ecliptic, accurate to 1 arcmin per century from J2000.
const obliquity = 0.40909260052

// The Sun moves through the LSR at about 20 km/s towards an apex close to
// Vega, at R.A. 18h and Dec. 30 degrees.
const (
	apexRA  = 1.5 * math.Pi
	apexDec = math.Pi / 6
)

// North Galactic Pole, from
// https://physics.stackexchange.com/questions/88663/converting-between-galactic-and-ecliptic-coordinates
var (
	raNGP  = Deg2Rad(192.85948)
	decNGP = Deg2Rad(27.12825)
	lNCP   = Deg2Rad(122.93192)
)

// J2000 is Julian day 2451545.0.
var J2000 = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

// Location is an observer position on the Earth. Longitude is positive east.
type Location struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Direction is an antenna pointing in horizontal coordinates.
type Direction struct {
	Azimuth  float64 `json:"azimuth"`
	Altitude float64 `json:"altitude"`
}

func Deg2Rad(x float64) float64 {
	return x * math.Pi / 180
}

func Rad2Deg(x float64) float64 {
	return x * 180 / math.Pi
}

// NormalizeAzimuth wraps an azimuth into [0, 2π).
func NormalizeAzimuth(az float64) float64 {
	az = math.Mod(az, fullCircle)
	if az < 0 {
		az += fullCircle
	}
	if az >= fullCircle {
		az = 0
	}
	return az
}

// JulianDay returns the decimal Julian day for t. Only millisecond precision
// is kept.
func JulianDay(t time.Time) float64 {
	ms := t.Sub(J2000).Milliseconds()
	return 2451545.0 + float64(ms)/(24*60*60*1000)
}

// GMST returns Greenwich Mean Sidereal Time in radians.
// Algorithm from https://aa.usno.navy.mil/faq/GAST
func GMST(t time.Time) float64 {
	jd := JulianDay(t)
	jd0 := math.Floor(jd) + 0.5
	h := (jd - jd0) * 24
	dtt := jd - 2451545.0
	dut := jd0 - 2451545.0
	c := dtt / 36525
	gmst := math.Mod(6.697375+0.065709824279*dut+1.0027379*h+0.0000258*c*c, 24)
	return gmst * math.Pi / 12
}

// HorizontalFromEquatorial converts right ascension and declination to
// azimuth and altitude for an observer at loc.
// Conversion from https://aa.usno.navy.mil/faq/alt_az
func HorizontalFromEquatorial(loc Location, t time.Time, ra, dec float64) Direction {
	lat := loc.Latitude
	lha := GMST(t) - ra + loc.Longitude
	alt := math.Asin(math.Cos(lha)*math.Cos(dec)*math.Cos(lat) + math.Sin(dec)*math.Sin(lat))
	az := math.Atan2(-math.Sin(lha), math.Tan(dec)*math.Cos(lat)-math.Sin(lat)*math.Cos(lha))
	return Direction{
		Azimuth:  NormalizeAzimuth(az),
		Altitude: alt,
	}
}

// EquatorialFromGalactic converts galactic longitude and latitude to right
// ascension and declination.
func EquatorialFromGalactic(l, b float64) (float64, float64) {
	dec := math.Asin(math.Sin(decNGP)*math.Sin(b) + math.Cos(decNGP)*math.Cos(b)*math.Cos(lNCP-l))
	// Dividing the two defining equations gives tan(ra-raNGP); atan2 recovers
	// the quadrant.
	ra := math.Atan2(
		math.Cos(b)*math.Sin(lNCP-l),
		math.Cos(decNGP)*math.Sin(b)-math.Sin(decNGP)*math.Cos(b)*math.Cos(lNCP-l),
	) + raNGP
	return ra, dec
}

// HorizontalFromGalactic converts galactic coordinates to azimuth and
// altitude for an observer at loc.
func HorizontalFromGalactic(loc Location, t time.Time, l, b float64) Direction {
	ra, dec := EquatorialFromGalactic(l, b)
	return HorizontalFromEquatorial(loc, t, ra, dec)
}
