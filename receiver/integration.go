package receiver

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/w1xm/salsa_interface/internal/metrics"
)

// Device is an SDR front end. An integration owns its device exclusively and
// never issues overlapping calls.
type Device interface {
	SetSampleRate(ctx context.Context, rate float64) error
	SetGain(ctx context.Context, gain float64) error
	Tune(ctx context.Context, freq float64) error
	// ReadSamples blocks until buf is filled with consecutive samples.
	ReadSamples(ctx context.Context, buf []complex64) error
	Close() error
}

type Opener interface {
	Open(ctx context.Context) (Device, error)
}

type OpenerFunc func(ctx context.Context) (Device, error)

func (f OpenerFunc) Open(ctx context.Context) (Device, error) { return f(ctx) }

// Integration is a running measurement task.
type Integration struct {
	name    string
	cfg     Config
	opener  Opener
	metrics *metrics.Collector
	acc     *Accumulator
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Start launches an integration. It runs until Stop is called or ctx is
// canceled, retrying device failures once per integration time.
func Start(ctx context.Context, name string, cfg Config, opener Opener, m *metrics.Collector) (*Integration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	in := &Integration{
		name:    name,
		cfg:     cfg,
		opener:  opener,
		metrics: m,
		acc:     NewAccumulator(cfg.Frequencies(), time.Now()),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go in.run(ctx)
	return in, nil
}

// Stop asks the task to exit after the cycle in progress.
func (in *Integration) Stop() {
	in.cancel()
}

func (in *Integration) Done() <-chan struct{} {
	return in.done
}

func (in *Integration) Finished() bool {
	select {
	case <-in.done:
		return true
	default:
		return false
	}
}

// Measurement returns the running average, or false before the first cycle
// completes.
func (in *Integration) Measurement() (Measurement, bool) {
	m := in.acc.Snapshot()
	return m, m.Cycles > 0
}

// Err returns the most recent device error, cleared by a successful cycle.
func (in *Integration) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

func (in *Integration) setErr(err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.err = err
}

func (in *Integration) run(ctx context.Context) {
	defer close(in.done)
	log.Printf("%s: starting integration", in.name)
	defer log.Printf("%s: integration stopped", in.name)
	for ctx.Err() == nil {
		err := in.session(ctx)
		if err == nil {
			return
		}
		log.Printf("%s: receiver: %v", in.name, err)
		in.setErr(err)
		in.metrics.ReceiverError(in.name)
		select {
		case <-ctx.Done():
		case <-time.After(in.cfg.IntegrationTime):
		}
	}
}

// session opens the device and measures until ctx is canceled.
func (in *Integration) session(ctx context.Context) error {
	// Device calls are never interrupted; cancellation is honored between
	// cycles.
	dctx := context.WithoutCancel(ctx)
	dev, err := in.opener.Open(dctx)
	if err != nil {
		return fmt.Errorf("opening device: %w", err)
	}
	defer dev.Close()
	if err := dev.SetSampleRate(dctx, in.cfg.SampleRate); err != nil {
		return fmt.Errorf("setting sample rate: %w", err)
	}
	if err := dev.SetGain(dctx, in.cfg.Gain); err != nil {
		return fmt.Errorf("setting gain: %w", err)
	}

	buf := make([]complex64, in.cfg.HalfCycleSamples())
	ps := newPowerSpectrum(in.cfg.FFTPoints)
	for ctx.Err() == nil {
		start := time.Now()
		spec, err := in.cycle(dctx, dev, ps, buf)
		if err != nil {
			return err
		}
		d := time.Since(start)
		in.acc.Add(spec, d)
		in.setErr(nil)
		in.metrics.ReceiverCycle(in.name, d)
	}
	return nil
}

func (in *Integration) cycle(ctx context.Context, dev Device, ps *powerSpectrum, buf []complex64) ([]float64, error) {
	sig, err := in.single(ctx, dev, ps, buf, in.cfg.SignalFrequency)
	if err != nil {
		return nil, err
	}
	ref, err := in.single(ctx, dev, ps, buf, in.cfg.ReferenceFrequency)
	if err != nil {
		return nil, err
	}
	return Calibrate(sig, ref, in.cfg.Tsys), nil
}

func (in *Integration) single(ctx context.Context, dev Device, ps *powerSpectrum, buf []complex64, freq float64) ([]float64, error) {
	if err := dev.Tune(ctx, freq); err != nil {
		return nil, fmt.Errorf("tuning to %.0f Hz: %w", freq, err)
	}
	if err := dev.ReadSamples(ctx, buf); err != nil {
		return nil, fmt.Errorf("sampling at %.0f Hz: %w", freq, err)
	}
	spec := ps.compute(buf)
	Despike(spec, in.cfg.DespikeWindow, in.cfg.DespikeThreshold)
	return Downsample(spec, in.cfg.AveragePoints), nil
}
