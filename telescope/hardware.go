package telescope

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/w1xm/salsa_interface/internal/metrics"
	"github.com/w1xm/salsa_interface/receiver"
	"github.com/w1xm/salsa_interface/rot2prog"
	"github.com/w1xm/salsa_interface/tracker"
)

type HardwareConfig struct {
	Tracker  tracker.Config
	Receiver receiver.Config
}

func DefaultHardwareConfig() HardwareConfig {
	return HardwareConfig{
		Tracker:  tracker.DefaultConfig(),
		Receiver: receiver.DefaultConfig(),
	}
}

// Hardware is a telescope driven by a Rot2Prog controller and an SDR
// receiver. Pointing is delegated to a tracker running in Run.
type Hardware struct {
	name    string
	cfg     HardwareConfig
	tracker *tracker.Tracker
	opener  receiver.Opener
	metrics *metrics.Collector

	mu        sync.Mutex
	integrate bool
	// active is the running integration until Update reaps it. last is kept
	// afterwards so its spectrum stays visible.
	active *receiver.Integration
	last   *receiver.Integration
}

func NewHardware(name string, dialer rot2prog.Dialer, opener receiver.Opener, cfg HardwareConfig, m *metrics.Collector) *Hardware {
	return &Hardware{
		name:    name,
		cfg:     cfg,
		tracker: tracker.New(name, dialer, cfg.Tracker, m),
		opener:  opener,
		metrics: m,
	}
}

// Run drives the tracking loop until ctx is canceled, then stops any
// integration.
func (h *Hardware) Run(ctx context.Context) error {
	defer func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.active != nil {
			h.active.Stop()
		}
	}()
	return h.tracker.Run(ctx)
}

func (h *Hardware) Direction() (Direction, error) {
	return h.tracker.Direction()
}

func (h *Hardware) Target() (Target, error) {
	return h.tracker.Target(), nil
}

// SetTarget always succeeds; a target below the horizon is reported by the
// next tracking cycle.
func (h *Hardware) SetTarget(target Target) (Target, error) {
	if err := target.Validate(); err != nil {
		return Target{}, err
	}
	log.Printf("%s: target %v", h.name, target)
	return h.tracker.SetTarget(target), nil
}

func (h *Hardware) SetReceiverConfiguration(cfg ReceiverConfiguration) (ReceiverConfiguration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case cfg.Integrate && !h.integrate:
		if h.active != nil {
			return ReceiverConfiguration{Integrate: h.integrate}, ErrIntegrationAlreadyRunning
		}
		in, err := receiver.Start(context.Background(), h.name, h.cfg.Receiver, h.opener, h.metrics)
		if err != nil {
			return ReceiverConfiguration{Integrate: h.integrate}, err
		}
		h.active = in
		h.last = in
		h.integrate = true
	case !cfg.Integrate && h.integrate:
		if h.active != nil {
			h.active.Stop()
		}
		h.integrate = false
	}
	return ReceiverConfiguration{Integrate: h.integrate}, nil
}

func (h *Hardware) Info() (Info, error) {
	ti, err := h.tracker.Info()
	if err != nil {
		return Info{}, err
	}
	info := Info{
		ID:                  h.name,
		Status:              ti.Status,
		CurrentHorizontal:   ti.Current,
		CommandedHorizontal: ti.Commanded,
		CurrentTarget:       ti.Target,
		MostRecentError:     ti.MostRecentError,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	info.MeasurementInProgress = h.active != nil
	if info.MostRecentError == nil && h.active != nil {
		info.MostRecentError = h.active.Err()
	}
	if h.last != nil {
		if m, ok := h.last.Measurement(); ok {
			info.LatestObservation = &ObservedSpectrum{
				Frequencies:     m.Frequencies,
				Amplitudes:      m.Amplitudes,
				ObservationTime: m.Duration,
			}
		}
	}
	return info, nil
}

// Update reaps a finished integration.
func (h *Hardware) Update(dt time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil || !h.active.Finished() {
		return nil
	}
	if err := h.active.Err(); err != nil {
		log.Printf("%s: integration ended with %v", h.name, err)
	}
	h.active = nil
	return nil
}

// Restart power cycles the controller on the next tracking cycle.
func (h *Hardware) Restart() error {
	log.Printf("%s: restart requested", h.name)
	h.tracker.RequestRestart()
	return nil
}
