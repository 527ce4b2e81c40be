package telescope

import (
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/w1xm/salsa_interface/coords"
	"github.com/w1xm/salsa_interface/receiver"
	"github.com/w1xm/salsa_interface/tracker"
)

type SimulatedConfig struct {
	Location    Location
	MinAltitude float64
	// SlewSpeed is the per-axis speed in rad/s.
	SlewSpeed float64
	// Park is where the Parked target points.
	Park              Direction
	TrackingTolerance float64

	// Synthetic spectra: Channels bins of ChannelWidth Hz centred on
	// CenterFrequency, Baseline plus Gaussian noise of sigma Noise.
	Channels        int
	ChannelWidth    float64
	CenterFrequency float64
	Baseline        float64
	Noise           float64
	Seed            int64
}

func DefaultSimulatedConfig() SimulatedConfig {
	tc := tracker.DefaultConfig()
	return SimulatedConfig{
		Location:          tc.Location,
		MinAltitude:       tc.MinAltitude,
		SlewSpeed:         math.Pi / 10,
		Park:              Direction{Azimuth: 0, Altitude: math.Pi / 2},
		TrackingTolerance: tc.TrackingTolerance,
		Channels:          400,
		ChannelWidth:      2e6 / 400,
		CenterFrequency:   1.420e9,
		Baseline:          5,
		Noise:             2,
		Seed:              1,
	}
}

func (c SimulatedConfig) frequencies() []float64 {
	freqs := make([]float64, c.Channels)
	first := c.CenterFrequency - c.ChannelWidth*float64(c.Channels)/2
	for i := range freqs {
		freqs[i] = first + float64(i)*c.ChannelWidth
	}
	return freqs
}

// Simulated is a telescope that moves itself on Update and produces flat
// noisy spectra while integrating.
type Simulated struct {
	name string
	cfg  SimulatedConfig
	now  func() time.Time
	rng  *rand.Rand

	target  Target
	current Direction
	// stopped holds the telescope where it is until the next SetTarget or
	// Restart.
	stopped bool
	err     error

	integrate bool
	acc       *receiver.Accumulator
}

// NewSimulated returns a parked simulated telescope.
func NewSimulated(name string, cfg SimulatedConfig) *Simulated {
	return &Simulated{
		name:    name,
		cfg:     cfg,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		target:  coords.ParkedTarget(),
		current: cfg.Park,
	}
}

func (s *Simulated) Direction() (Direction, error) {
	return s.current, nil
}

func (s *Simulated) Target() (Target, error) {
	return s.target, nil
}

// resolve returns where the target is now. Parked resolves to the park
// position with ok false.
func (s *Simulated) resolve(target Target) (Direction, bool) {
	dir, ok := target.Horizontal(s.cfg.Location, s.now())
	if !ok {
		return s.cfg.Park, false
	}
	return dir, true
}

// SetTarget stops any integration and discards its spectrum. A target below
// the minimum altitude is rejected and stops the telescope.
func (s *Simulated) SetTarget(target Target) (Target, error) {
	if err := target.Validate(); err != nil {
		return Target{}, err
	}
	s.err = nil
	s.integrate = false
	s.acc = nil
	if dir, ok := s.resolve(target); ok && dir.Altitude < s.cfg.MinAltitude {
		log.Printf("%s: refusing target %v below the horizon", s.name, target)
		s.stopped = true
		s.err = ErrTargetBelowHorizon
		return Target{}, ErrTargetBelowHorizon
	}
	log.Printf("%s: target %v", s.name, target)
	s.stopped = false
	s.target = target
	return target, nil
}

func (s *Simulated) SetReceiverConfiguration(cfg ReceiverConfiguration) (ReceiverConfiguration, error) {
	switch {
	case cfg.Integrate && !s.integrate:
		log.Printf("%s: starting integration", s.name)
		s.integrate = true
		s.acc = receiver.NewAccumulator(s.cfg.frequencies(), s.now())
	case !cfg.Integrate && s.integrate:
		log.Printf("%s: stopping integration", s.name)
		s.integrate = false
	}
	return ReceiverConfiguration{Integrate: s.integrate}, nil
}

func (s *Simulated) Info() (Info, error) {
	info := Info{
		ID:                    s.name,
		CurrentHorizontal:     s.current,
		CurrentTarget:         s.target,
		MostRecentError:       s.err,
		MeasurementInProgress: s.integrate,
	}
	if dir, ok := s.resolve(s.target); ok && !s.stopped && dir.Altitude >= s.cfg.MinAltitude {
		info.CommandedHorizontal = &dir
	}
	info.Status = tracker.DeriveStatus(info.CommandedHorizontal, s.current, s.cfg.TrackingTolerance)
	if s.acc != nil {
		if m := s.acc.Snapshot(); m.Cycles > 0 {
			info.LatestObservation = &ObservedSpectrum{
				Frequencies:     m.Frequencies,
				Amplitudes:      m.Amplitudes,
				ObservationTime: m.Duration,
			}
		}
	}
	return info, nil
}

// Update slews each axis toward the target by at most SlewSpeed*dt. A target
// that has set below the minimum altitude stops the telescope.
func (s *Simulated) Update(dt time.Duration) error {
	dir, ok := s.resolve(s.target)
	switch {
	case s.stopped:
	case ok && dir.Altitude < s.cfg.MinAltitude:
		log.Printf("%s: stopping, target %v set below the horizon", s.name, s.target)
		s.stopped = true
		s.err = ErrTargetBelowHorizon
	default:
		step := s.cfg.SlewSpeed * dt.Seconds()
		daz := math.Remainder(dir.Azimuth-s.current.Azimuth, 2*math.Pi)
		s.current.Azimuth = coords.NormalizeAzimuth(s.current.Azimuth + clamp(daz, step))
		s.current.Altitude += clamp(dir.Altitude-s.current.Altitude, step)
	}
	if s.integrate {
		s.acc.Add(s.spectrum(), dt)
	}
	return nil
}

func (s *Simulated) spectrum() []float64 {
	spec := make([]float64, s.cfg.Channels)
	for i := range spec {
		spec[i] = s.cfg.Baseline + s.cfg.Noise*s.rng.NormFloat64()
	}
	return spec
}

// Restart clears the error and resumes the current target. Any integration
// is stopped and its spectrum discarded.
func (s *Simulated) Restart() error {
	log.Printf("%s: restart", s.name)
	s.err = nil
	s.stopped = false
	s.integrate = false
	s.acc = nil
	return nil
}

func clamp(x, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, x))
}
