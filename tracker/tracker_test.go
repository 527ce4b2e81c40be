package tracker

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/w1xm/salsa_interface/coords"
	"github.com/w1xm/salsa_interface/rot2prog"
	"github.com/w1xm/salsa_interface/rot2prog/simulator"
)

var zenith = coords.Direction{Azimuth: 0, Altitude: math.Pi / 2}

type dialerFunc func(ctx context.Context) (*rot2prog.Conn, error)

func (f dialerFunc) Dial(ctx context.Context) (*rot2prog.Conn, error) { return f(ctx) }

// harness runs single control cycles against a simulated controller.
type harness struct {
	t    *testing.T
	ctx  context.Context
	sim  *simulator.Simulator
	trk  *Tracker
	conn *rot2prog.Conn
	seen int
	when time.Time
}

func newHarness(t *testing.T) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sim := simulator.New()
	sim.RawDigits = true
	cfg := DefaultConfig()
	cfg.Target = coords.ParkedTarget()
	h := &harness{
		t:    t,
		ctx:  ctx,
		sim:  sim,
		trk:  New("salsa", sim, cfg, nil),
		when: time.Date(2023, 4, 7, 12, 0, 0, 0, time.UTC),
	}
	h.trk.now = func() time.Time { return h.when }
	return h
}

// step runs one cycle and returns the kinds of the commands it sent.
func (h *harness) step() []rot2prog.CommandKind {
	h.t.Helper()
	h.conn, _ = h.trk.step(h.ctx, h.conn)
	received := h.sim.Received()
	var kinds []rot2prog.CommandKind
	for _, cmd := range received[h.seen:] {
		kinds = append(kinds, cmd.Kind)
	}
	h.seen = len(received)
	return kinds
}

func (h *harness) info() Info {
	h.t.Helper()
	info, err := h.trk.Info()
	if err != nil {
		h.t.Fatalf("Info: %v", err)
	}
	return info
}

func (h *harness) expect(got []rot2prog.CommandKind, want ...rot2prog.CommandKind) {
	h.t.Helper()
	if diff := cmp.Diff(got, want, cmpopts.EquateEmpty()); diff != "" {
		h.t.Errorf("unexpected commands: got(-)/want(+):\n%s", diff)
	}
}

func TestTrackingSequence(t *testing.T) {
	h := newHarness(t)

	if _, err := h.trk.Info(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Info before first cycle: got %v, want ErrNotConnected", err)
	}

	// First connection halts the controller.
	h.expect(h.step(), rot2prog.Stop, rot2prog.GetDirection)
	info := h.info()
	if info.Status != Idle || info.Commanded != nil {
		t.Errorf("after connect: %+v", info)
	}
	if diff := cmp.Diff(info.Current, zenith, cmpopts.EquateApprox(0, 1e-4)); diff != "" {
		t.Errorf("unexpected current direction: got(-)/want(+):\n%s", diff)
	}

	h.trk.SetTarget(coords.GalacticTarget(math.Pi/2, 0))
	h.expect(h.step(), rot2prog.GetDirection, rot2prog.SetDirection)
	info = h.info()
	if info.Commanded == nil || info.Status != Slewing {
		t.Fatalf("after target: %+v", info)
	}

	// On target: only poll.
	h.sim.SetDirection(*info.Commanded)
	h.expect(h.step(), rot2prog.GetDirection)
	if got := h.info().Status; got != Tracking {
		t.Errorf("on target: status %v, want Tracking", got)
	}

	// The sky moves on.
	h.when = h.when.Add(5 * time.Minute)
	h.expect(h.step(), rot2prog.GetDirection, rot2prog.SetDirection)
	if got := h.info().Status; got != Slewing {
		t.Errorf("five minutes later: status %v, want Slewing", got)
	}

	h.trk.SetTarget(coords.ParkedTarget())
	h.expect(h.step(), rot2prog.GetDirection, rot2prog.Stop)
	info = h.info()
	if info.Status != Idle || info.Commanded != nil {
		t.Errorf("after park: %+v", info)
	}

	h.expect(h.step(), rot2prog.GetDirection)
	if got := h.info().Status; got != Idle {
		t.Errorf("parked: status %v, want Idle", got)
	}
}

func TestBelowHorizon(t *testing.T) {
	h := newHarness(t)
	h.step()

	h.trk.SetTarget(coords.HorizontalTarget(1, coords.Deg2Rad(2)))
	h.expect(h.step(), rot2prog.GetDirection)
	info := h.info()
	if info.Commanded != nil {
		t.Errorf("commanded = %+v, want nil", info.Commanded)
	}
	if info.Status != Idle {
		t.Errorf("status = %v, want Idle", info.Status)
	}
	if !errors.Is(info.MostRecentError, ErrTargetBelowHorizon) {
		t.Errorf("most recent error = %v, want ErrTargetBelowHorizon", info.MostRecentError)
	}
	if h.conn == nil {
		t.Error("below-horizon target dropped the connection")
	}

	// A reachable target clears the error.
	h.trk.SetTarget(coords.HorizontalTarget(1, coords.Deg2Rad(45)))
	h.expect(h.step(), rot2prog.GetDirection, rot2prog.SetDirection)
	if err := h.info().MostRecentError; err != nil {
		t.Errorf("most recent error = %v, want nil", err)
	}
}

func TestHysteresis(t *testing.T) {
	target := coords.Direction{Azimuth: 1, Altitude: 0.8}
	for _, test := range []struct {
		name       string
		offset     float64 // degrees, applied to both axes
		wantSet    bool
		wantStatus Status
	}{
		{"exact", 0, false, Tracking},
		{"within command tolerance", 0.05, false, Tracking},
		{"within tracking tolerance", 0.15, true, Tracking},
		{"outside tracking tolerance", 0.3, true, Slewing},
		{"far", 10, true, Slewing},
	} {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t)
			h.step()
			h.trk.SetTarget(coords.HorizontalTarget(target.Azimuth, target.Altitude))
			off := coords.Deg2Rad(test.offset)
			h.sim.SetDirection(coords.Direction{Azimuth: target.Azimuth + off, Altitude: target.Altitude - off})

			want := []rot2prog.CommandKind{rot2prog.GetDirection}
			if test.wantSet {
				want = append(want, rot2prog.SetDirection)
			}
			h.expect(h.step(), want...)
			if got := h.info().Status; got != test.wantStatus {
				t.Errorf("status = %v, want %v", got, test.wantStatus)
			}
		})
	}
}

func TestDirectionsCloseAcrossNorth(t *testing.T) {
	a := coords.Direction{Azimuth: coords.Deg2Rad(359.95), Altitude: 0.5}
	b := coords.Direction{Azimuth: coords.Deg2Rad(0.02), Altitude: 0.5}
	if !DirectionsClose(a, b, coords.Deg2Rad(0.1)) {
		t.Error("directions either side of north are not close")
	}
	if got := DeriveStatus(nil, b, 1); got != Idle {
		t.Errorf("DeriveStatus(nil) = %v, want Idle", got)
	}
}

func TestRestart(t *testing.T) {
	h := newHarness(t)
	h.step()
	h.trk.RequestRestart()

	conn, restarted := h.trk.step(h.ctx, h.conn)
	if !restarted || conn != nil {
		t.Fatalf("step = %v, %v; want nil connection and restart", conn, restarted)
	}
	if got := h.sim.Restarts(); got != 1 {
		t.Errorf("controller restarts = %d, want 1", got)
	}
}

func TestRunRestartCooldown(t *testing.T) {
	sim := simulator.New()
	cfg := DefaultConfig()
	cfg.Period = time.Millisecond
	cfg.RestartCooldown = 50 * time.Millisecond
	trk := New("salsa", sim, cfg, nil)
	trk.RequestRestart()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- trk.Run(ctx) }()

	var stops int
	for stops < 2 {
		if ctx.Err() != nil {
			t.Fatalf("controller never reconnected after restart; saw %d stops", stops)
		}
		stops = 0
		for _, cmd := range sim.Received() {
			if cmd.Kind == rot2prog.Stop {
				stops++
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := sim.Restarts(); got != 1 {
		t.Errorf("controller restarts = %d, want 1", got)
	}
	trk.mu.Lock()
	pending := trk.restartRequested
	trk.mu.Unlock()
	if pending {
		t.Error("restart still pending after cooldown")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}
}

func TestConnectionFailures(t *testing.T) {
	sim := simulator.New()
	fail := true
	dialer := dialerFunc(func(ctx context.Context) (*rot2prog.Conn, error) {
		if fail {
			return nil, &rot2prog.IOError{Message: "connection refused"}
		}
		return sim.Dial(ctx)
	})
	trk := New("salsa", dialer, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _ := trk.step(ctx, nil)
	if conn != nil {
		t.Fatal("step returned a connection after a failed dial")
	}
	var ioErr *rot2prog.IOError
	if !errors.As(trk.err, &ioErr) {
		t.Errorf("recorded error = %v, want IOError", trk.err)
	}
	if _, err := trk.Direction(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Direction: got %v, want ErrNotConnected", err)
	}

	fail = false
	conn, _ = trk.step(ctx, nil)
	if conn == nil {
		t.Fatal("step did not connect")
	}
	if _, err := trk.Direction(); err != nil {
		t.Errorf("Direction after reconnect: %v", err)
	}

	// A dead transport is dropped and redialed with a fresh Stop.
	conn.Close()
	if conn, _ = trk.step(ctx, conn); conn != nil {
		t.Fatal("step kept a closed connection")
	}
	if !errors.As(trk.err, &ioErr) {
		t.Errorf("recorded error = %v, want IOError", trk.err)
	}
	before := len(sim.Received())
	if conn, _ = trk.step(ctx, nil); conn == nil {
		t.Fatal("step did not reconnect")
	}
	if got := sim.Received()[before].Kind; got != rot2prog.Stop {
		t.Errorf("first command after reconnect = %v, want Stop", got)
	}

	// An outage drops the stale reading.
	conn.Close()
	trk.step(ctx, conn)
	if _, err := trk.Direction(); err != nil {
		t.Errorf("Direction after one failed cycle: %v", err)
	}
	fail = true
	trk.step(ctx, nil)
	if _, err := trk.Direction(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Direction during outage: got %v, want ErrNotConnected", err)
	}
	if _, err := trk.Info(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Info during outage: got %v, want ErrNotConnected", err)
	}
}
