// Package telescope is the capability interface shared by simulated and
// hardware telescopes, and the handles the request layer goes through.
package telescope

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/w1xm/salsa_interface/coords"
	"github.com/w1xm/salsa_interface/rot2prog"
	"github.com/w1xm/salsa_interface/tracker"
)

type (
	Direction = coords.Direction
	Location  = coords.Location
	Target    = coords.Target
	Status    = tracker.Status
	IOError   = rot2prog.IOError
)

const (
	Idle     = tracker.Idle
	Slewing  = tracker.Slewing
	Tracking = tracker.Tracking
)

var (
	ErrTargetBelowHorizon        = tracker.ErrTargetBelowHorizon
	ErrNotConnected              = tracker.ErrNotConnected
	ErrIntegrationAlreadyRunning = errors.New("integration already running")
)

type ReceiverConfiguration struct {
	Integrate bool `json:"integrate"`
}

// ObservedSpectrum is the running average of an observation at reporting
// resolution.
type ObservedSpectrum struct {
	Frequencies     []float64
	Amplitudes      []float64
	ObservationTime time.Duration
}

func (s ObservedSpectrum) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Frequencies     []float64 `json:"frequencies"`
		Amplitudes      []float64 `json:"amplitudes"`
		ObservationTime float64   `json:"observation_time"`
	}{s.Frequencies, s.Amplitudes, s.ObservationTime.Seconds()})
}

// Info is a snapshot of one telescope.
type Info struct {
	ID                    string            `json:"id"`
	Status                Status            `json:"status"`
	CurrentHorizontal     Direction         `json:"current_horizontal"`
	CommandedHorizontal   *Direction        `json:"commanded_horizontal"`
	CurrentTarget         Target            `json:"current_target"`
	MostRecentError       error             `json:"-"`
	MeasurementInProgress bool              `json:"measurement_in_progress"`
	LatestObservation     *ObservedSpectrum `json:"latest_observation"`
}

// MarshalJSON reports MostRecentError as its message, or null.
func (i Info) MarshalJSON() ([]byte, error) {
	type plain Info
	var msg *string
	if i.MostRecentError != nil {
		s := i.MostRecentError.Error()
		msg = &s
	}
	return json.Marshal(struct {
		plain
		MostRecentError *string `json:"most_recent_error"`
	}{plain(i), msg})
}

// Telescope is implemented by Simulated and Hardware. Implementations are not
// safe for concurrent use; go through a Handle.
type Telescope interface {
	Direction() (Direction, error)
	Target() (Target, error)
	SetTarget(target Target) (Target, error)
	SetReceiverConfiguration(cfg ReceiverConfiguration) (ReceiverConfiguration, error)
	Info() (Info, error)
	// Update is called once per service interval with the time since the last
	// call.
	Update(dt time.Duration) error
	Restart() error
}

// Runner is implemented by telescopes with a background loop of their own.
type Runner interface {
	Run(ctx context.Context) error
}
