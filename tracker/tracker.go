// Package tracker keeps a Rot2Prog rotator pointed at a sky target.
package tracker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/w1xm/salsa_interface/coords"
	"github.com/w1xm/salsa_interface/internal/metrics"
	"github.com/w1xm/salsa_interface/rot2prog"
)

var (
	ErrTargetBelowHorizon = errors.New("target is below the horizon")
	ErrNotConnected       = errors.New("telescope is not connected")
)

type Config struct {
	Location    coords.Location
	MinAltitude float64
	// Period is the control cadence.
	Period time.Duration
	// RestartCooldown is how long the controller is left alone after a
	// restart command.
	RestartCooldown time.Duration
	// A new SetDirection is sent when the mount is further than
	// CommandTolerance from the commanded direction on either axis.
	CommandTolerance float64
	// TrackingTolerance is wider than CommandTolerance so controller rounding
	// does not flip the status between Slewing and Tracking.
	TrackingTolerance float64
	// Target is the target at startup.
	Target coords.Target
}

// Onsala Space Observatory.
var onsala = coords.Location{
	Longitude: 0.20802143022,
	Latitude:  1.00170457462,
}

func DefaultConfig() Config {
	return Config{
		Location:          onsala,
		MinAltitude:       coords.Deg2Rad(5),
		Period:            100 * time.Millisecond,
		RestartCooldown:   10 * time.Second,
		CommandTolerance:  coords.Deg2Rad(0.1),
		TrackingTolerance: coords.Deg2Rad(0.2),
		Target:            coords.GalacticTarget(coords.Deg2Rad(140), 0),
	}
}

type Info struct {
	Target          coords.Target
	Commanded       *coords.Direction
	Current         coords.Direction
	Status          Status
	MostRecentError error
}

type Tracker struct {
	name    string
	cfg     Config
	dialer  rot2prog.Dialer
	metrics *metrics.Collector
	now     func() time.Time

	mu               sync.Mutex
	target           coords.Target
	commanded        *coords.Direction
	current          *coords.Direction
	err              error
	restartRequested bool
	lastLogged       string
}

// New returns a tracker for the controller reached through dialer. Call Run
// to start the control loop.
func New(name string, dialer rot2prog.Dialer, cfg Config, m *metrics.Collector) *Tracker {
	return &Tracker{
		name:    name,
		cfg:     cfg,
		dialer:  dialer,
		metrics: m,
		now:     time.Now,
		target:  cfg.Target,
	}
}

// SetTarget replaces the target. Below-horizon targets are accepted here and
// rejected by the next control cycle.
func (t *Tracker) SetTarget(target coords.Target) coords.Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.target = target
	return target
}

func (t *Tracker) Target() coords.Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// RequestRestart asks the loop to power cycle the controller on its next
// cycle.
func (t *Tracker) RequestRestart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restartRequested = true
}

func (t *Tracker) Direction() (coords.Direction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return coords.Direction{}, ErrNotConnected
	}
	return *t.current, nil
}

func (t *Tracker) Info() (Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Info{}, ErrNotConnected
	}
	info := Info{
		Target:          t.target,
		Current:         *t.current,
		Status:          DeriveStatus(t.commanded, *t.current, t.cfg.TrackingTolerance),
		MostRecentError: t.err,
	}
	if t.commanded != nil {
		c := *t.commanded
		info.Commanded = &c
	}
	return info, nil
}

// Run drives the controller until ctx is canceled. Faults are recorded and
// retried on the next cycle.
func (t *Tracker) Run(ctx context.Context) error {
	var conn *rot2prog.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()
	next := time.Now()
	for {
		next = next.Add(t.cfg.Period)
		if behind := time.Since(next); behind > t.cfg.Period {
			next = time.Now()
		}
		if err := sleepUntil(ctx, next); err != nil {
			return err
		}
		var restarted bool
		conn, restarted = t.step(ctx, conn)
		if !restarted {
			continue
		}
		log.Printf("%s: restarted controller, waiting %v", t.name, t.cfg.RestartCooldown)
		if err := sleepUntil(ctx, time.Now().Add(t.cfg.RestartCooldown)); err != nil {
			return err
		}
		t.mu.Lock()
		t.restartRequested = false
		t.mu.Unlock()
		next = time.Now()
	}
}

func sleepUntil(ctx context.Context, when time.Time) error {
	timer := time.NewTimer(time.Until(when))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// step runs one control cycle. It returns the connection for the next cycle,
// nil if it must be re-established, and whether a restart was issued.
func (t *Tracker) step(ctx context.Context, conn *rot2prog.Conn) (*rot2prog.Conn, bool) {
	if conn == nil {
		c, err := t.dialer.Dial(ctx)
		if err != nil {
			t.disconnected()
			t.setError(err)
			return nil, false
		}
		// Halt whatever the controller was doing before we took over.
		_, err = t.execute(c, rot2prog.StopCommand())
		t.mu.Lock()
		t.commanded = nil
		t.mu.Unlock()
		if err != nil {
			t.setError(err)
			c.Close()
			return nil, false
		}
		conn = c
	}

	t.mu.Lock()
	restart := t.restartRequested
	t.mu.Unlock()
	if restart {
		_, err := t.execute(conn, rot2prog.RestartCommand())
		t.setError(err)
		conn.Close()
		return nil, true
	}

	err := t.updateDirection(conn, t.now())
	t.setError(err)
	if info, ierr := t.Info(); ierr == nil {
		t.metrics.SetTrackerStatus(t.name, int(info.Status))
	}
	if err != nil && !errors.Is(err, ErrTargetBelowHorizon) {
		conn.Close()
		return nil, false
	}
	return conn, false
}

// disconnected forgets the last reading once the controller is unreachable.
func (t *Tracker) disconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
	t.commanded = nil
}

func (t *Tracker) updateDirection(conn *rot2prog.Conn, when time.Time) error {
	target := t.Target()
	dir, ok := target.Horizontal(t.cfg.Location, when)

	resp, err := t.execute(conn, rot2prog.GetDirectionCommand())
	if err != nil {
		return err
	}
	current := resp.Direction
	t.mu.Lock()
	t.current = &current
	commanded := t.commanded
	t.mu.Unlock()

	if !ok {
		if commanded != nil {
			if _, err := t.execute(conn, rot2prog.StopCommand()); err != nil {
				return err
			}
			t.mu.Lock()
			t.commanded = nil
			t.mu.Unlock()
		}
		return nil
	}

	if dir.Altitude < t.cfg.MinAltitude {
		t.mu.Lock()
		t.commanded = nil
		t.mu.Unlock()
		return ErrTargetBelowHorizon
	}

	t.mu.Lock()
	t.commanded = &dir
	t.mu.Unlock()
	if !DirectionsClose(dir, current, t.cfg.CommandTolerance) {
		if _, err := t.execute(conn, rot2prog.SetDirectionCommand(dir)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) execute(conn *rot2prog.Conn, cmd rot2prog.Command) (rot2prog.Response, error) {
	t.metrics.RotatorCommand(t.name, cmd.Kind.String())
	return conn.Execute(cmd)
}

// setError records the outcome of a cycle, logging only when it changes.
func (t *Tracker) setError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
		if !errors.Is(err, ErrTargetBelowHorizon) {
			t.metrics.RotatorError(t.name)
		}
	}
	t.mu.Lock()
	t.err = err
	changed := msg != t.lastLogged
	t.lastLogged = msg
	t.mu.Unlock()
	if !changed {
		return
	}
	if err != nil {
		log.Printf("%s: %v", t.name, err)
	} else {
		log.Printf("%s: recovered", t.name)
	}
}
