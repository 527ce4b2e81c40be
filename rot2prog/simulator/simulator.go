// Package simulator emulates a Rot2Prog controller driving a two-axis mount.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"sync"
	"time"

	"github.com/w1xm/salsa_interface/coords"
	"github.com/w1xm/salsa_interface/rot2prog"
	"golang.org/x/sync/errgroup"
)

const (
	// Default slew rate in radians/second
	defaultSpeed = math.Pi / 60
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond
)

type Simulator struct {
	// RawDigits makes direction responses carry digit values 0-9 instead of
	// ASCII, as deployed controllers do.
	RawDigits bool
	// Verbose logs every frame.
	Verbose bool

	mu        sync.Mutex
	speed     float64
	current   coords.Direction
	commanded coords.Direction
	moving    bool
	restarts  int
	received  []rot2prog.Command
}

// New returns a simulator parked at the zenith.
func New() *Simulator {
	return &Simulator{
		speed:   defaultSpeed,
		current: coords.Direction{Azimuth: 0, Altitude: math.Pi / 2},
	}
}

// SetSpeed sets the slew rate in radians/second.
func (s *Simulator) SetSpeed(speed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = speed
}

// SetDirection teleports the mount.
func (s *Simulator) SetDirection(dir coords.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = dir
	s.moving = false
}

func (s *Simulator) Direction() coords.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Simulator) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Received returns every command decoded so far.
func (s *Simulator) Received() []rot2prog.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rot2prog.Command(nil), s.received...)
}

// Run moves the mount until ctx is canceled.
func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		s.step(stepSize)
	}
}

// approach moves cur towards target by at most max along the shortest path.
func approach(cur, target, max float64, wrap bool) float64 {
	move := target - cur
	if wrap {
		move = math.Remainder(move, 2*math.Pi)
	}
	if move > max {
		move = max
	} else if move < -max {
		move = -max
	}
	return cur + move
}

func (s *Simulator) step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.moving {
		return
	}
	max := s.speed * dt.Seconds()
	s.current.Azimuth = coords.NormalizeAzimuth(approach(s.current.Azimuth, s.commanded.Azimuth, max, true))
	s.current.Altitude = approach(s.current.Altitude, s.commanded.Altitude, max, false)
	if s.current.Altitude < 0 {
		s.current.Altitude = 0
	} else if s.current.Altitude > math.Pi/2 {
		s.current.Altitude = math.Pi / 2
	}
	if s.current == s.commanded {
		s.moving = false
	}
}

func (s *Simulator) handle(cmd rot2prog.Command) rot2prog.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, cmd)
	switch cmd.Kind {
	case rot2prog.Stop:
		s.moving = false
	case rot2prog.Restart:
		s.moving = false
		s.restarts++
	case rot2prog.SetDirection:
		s.commanded = cmd.Direction
		s.commanded.Azimuth = coords.NormalizeAzimuth(s.commanded.Azimuth)
		s.moving = true
		fallthrough
	case rot2prog.GetDirection:
		return rot2prog.Response{Kind: rot2prog.CurrentDirection, Direction: s.current}
	}
	return rot2prog.Response{Kind: rot2prog.Ack}
}

func (s *Simulator) encode(resp rot2prog.Response) []byte {
	out := resp.Bytes()
	if s.RawDigits && resp.Kind == rot2prog.CurrentDirection {
		for i := 1; i < rot2prog.ResponseLength-1; i++ {
			out[i] -= '0'
		}
	}
	return out
}

// Serve answers requests on conn until it is closed or ctx is canceled.
func (s *Simulator) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		conn.Close()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		var frame [rot2prog.RequestLength]byte
		for {
			if _, err := io.ReadFull(conn, frame[:]); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("reading port: %w", err)
			}
			cmd, err := rot2prog.DecodeCommand(frame[:])
			if err != nil {
				log.Printf("parsing % X: %v", frame, err)
				continue
			}
			resp := s.encode(s.handle(cmd))
			if s.Verbose {
				log.Printf("srv->sim: % X sim->srv: % X", frame, resp)
			}
			if _, err := conn.Write(resp); err != nil {
				return fmt.Errorf("writing port: %w", err)
			}
		}
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Dial implements rot2prog.Dialer over an in-memory pipe.
func (s *Simulator) Dial(ctx context.Context) (*rot2prog.Conn, error) {
	a, b := net.Pipe()
	go func() {
		if err := s.Serve(ctx, a); err != nil {
			log.Printf("simulator: %v", err)
		}
	}()
	return rot2prog.NewConn(b, rot2prog.DefaultTimeout), nil
}

// ListenAndServe accepts TCP connections on addr until ctx is canceled.
func (s *Simulator) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, l)
}

func (s *Simulator) ServeListener(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	log.Printf("rotator simulator listening on %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			if err := s.Serve(ctx, conn); err != nil {
				log.Printf("serving %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}
