package coords

import (
	"math"
	"time"
)

// eclipticFromSun returns the Sun's geocentric apparent ecliptic longitude
// and latitude. From https://aa.usno.navy.mil/faq/sun_approx, good to about
// 1 arcminute within two centuries of 2000.
func eclipticFromSun(t time.Time) (float64, float64) {
	d := JulianDay(t) - 2451545.0
	// Mean anomaly and mean longitude, in degrees.
	g := math.Mod(357.529+0.98560028*d, 360)
	q := math.Mod(280.459+0.98564736*d, 360)
	l := math.Mod(q+1.915*math.Sin(Deg2Rad(g))+0.020*math.Sin(Deg2Rad(2*g)), 360)
	return Deg2Rad(l), 0
}

func equatorialFromSun(t time.Time) (float64, float64) {
	l, _ := eclipticFromSun(t)
	d := JulianDay(t) - 2451545.0
	e := Deg2Rad(23.439 - 0.00000036*d)
	ra := math.Atan2(math.Cos(e)*math.Sin(l), math.Cos(l))
	dec := math.Asin(math.Sin(e) * math.Sin(l))
	return ra, dec
}

// HorizontalFromSun returns the direction of the Sun seen from loc at t.
func HorizontalFromSun(loc Location, t time.Time) Direction {
	ra, dec := equatorialFromSun(t)
	return HorizontalFromEquatorial(loc, t, ra, dec)
}

func eclipticFromEquatorial(ra, dec float64) (float64, float64) {
	l := math.Atan(math.Tan(ra)*math.Cos(obliquity) + math.Tan(dec)*math.Sin(obliquity)/math.Cos(ra))
	b := math.Asin(math.Sin(dec)*math.Cos(obliquity) - math.Cos(dec)*math.Sin(obliquity)*math.Sin(ra))
	return l, b
}

// VLSRCorrection returns the velocity correction to the local standard of
// rest, in m/s, for a source at galactic coordinates (l, b) observed at t.
// From http://web.mit.edu/8.13/www/srt_software/vlsr.pdf
func VLSRCorrection(l, b float64, t time.Time) float64 {
	ra, dec := EquatorialFromGalactic(l, b)

	// Solar motion projected onto the source direction, km/s.
	vsun := 20 * (math.Cos(apexRA)*math.Cos(apexDec)*math.Cos(ra)*math.Cos(dec) +
		math.Sin(apexRA)*math.Cos(apexDec)*math.Sin(ra)*math.Cos(dec) +
		math.Sin(apexDec)*math.Sin(dec))

	tl, tb := eclipticFromEquatorial(ra, dec)
	sl, _ := eclipticFromSun(t)

	// Earth orbital motion, km/s.
	vorb := 30 * math.Cos(tb) * math.Sin(sl-tl)

	return 1e3 * (vsun + vorb)
}
